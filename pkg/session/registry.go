package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/graph"
	"github.com/core-tools/hsu-envctl/pkg/logging"
	"github.com/core-tools/hsu-envctl/pkg/processfile"
	"github.com/core-tools/hsu-envctl/pkg/store"
)

const (
	DefaultKind = graph.DefaultServeKind

	DefaultStopGrace = 5 * time.Second
)

// Session is a long-running background process attached to a unit.
type Session struct {
	ID        string
	UnitID    string
	Kind      string
	PID       int
	Command   string
	LogFile   string
	StartedAt time.Time
	Identity  string
}

type Options struct {
	// StopGrace is how long a session may take to exit after SIGTERM.
	StopGrace time.Duration
}

// Registry tracks sessions. At most one live session exists per unit and
// kind; records whose process has died are pruned when encountered.
type Registry struct {
	store   *store.Store
	files   *processfile.ProcessFileManager
	spawner Spawner
	options Options
	logger  logging.Logger
	mutex   sync.Mutex
}

func NewRegistry(st *store.Store, files *processfile.ProcessFileManager, spawner Spawner, options Options, logger logging.Logger) *Registry {
	if options.StopGrace <= 0 {
		options.StopGrace = DefaultStopGrace
	}
	return &Registry{
		store:   st,
		files:   files,
		spawner: spawner,
		options: options,
		logger:  logger,
	}
}

// Start launches command as the (unitID, kind) session.
func (r *Registry) Start(ctx context.Context, unitID, kind, command string, env []string) (Session, error) {
	if unitID == "" || kind == "" {
		return Session{}, errors.NewValidationError("session unit and kind are required", nil)
	}
	if strings.TrimSpace(command) == "" {
		return Session{}, errors.NewValidationError("session command cannot be empty", nil).WithContext("unit", unitID)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	existing, err := r.store.GetSession(ctx, unitID, kind)
	switch {
	case err == nil:
		if r.isRunning(existing.PID, existing.Identity) {
			return Session{}, errors.NewSessionAlreadyActiveError(unitID, kind).WithContext("pid", existing.PID)
		}
		if err := r.prune(ctx, existing); err != nil {
			return Session{}, err
		}
	case !errors.IsNotFoundError(err):
		return Session{}, err
	}

	session := Session{
		ID:        uuid.NewString(),
		UnitID:    unitID,
		Kind:      kind,
		Command:   command,
		LogFile:   r.files.GenerateLogFilePath(unitID, kind),
		StartedAt: time.Now(),
	}

	pid, err := r.spawner.Spawn(fmt.Sprintf("%s/%s", unitID, kind), command, env, session.LogFile)
	if err != nil {
		return Session{}, errors.NewProcessError("failed to start session", err).
			WithContext("unit", unitID).
			WithContext("kind", kind)
	}
	session.PID = pid
	session.Identity = r.spawner.Identity(pid)

	if err := r.store.InsertSession(ctx, toRecord(session)); err != nil {
		r.logger.Errorf("Session could not be recorded, stopping it, unit: %s, kind: %s, PID: %d, error: %v", unitID, kind, pid, err)
		if termErr := r.spawner.Terminate(pid, r.options.StopGrace); termErr != nil {
			r.logger.Errorf("Failed to stop unrecorded session, PID: %d, error: %v", pid, termErr)
		}
		if errors.IsConflictError(err) {
			return Session{}, errors.NewSessionAlreadyActiveError(unitID, kind)
		}
		return Session{}, err
	}

	if err := r.files.WritePIDFile(unitID, kind, pid); err != nil {
		r.logger.Warnf("Failed to write PID file, unit: %s, kind: %s, error: %v", unitID, kind, err)
	}

	r.logger.Infof("Session started, unit: %s, kind: %s, PID: %d, log: %s", unitID, kind, pid, session.LogFile)
	return session, nil
}

// Stop terminates the (unitID, kind) session and forgets it.
func (r *Registry) Stop(ctx context.Context, unitID, kind string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	record, err := r.store.GetSession(ctx, unitID, kind)
	if err != nil {
		return err
	}
	return r.stopLocked(ctx, fromRecord(record))
}

// StopUnit stops every session of unitID, whatever its kind.
func (r *Registry) StopUnit(ctx context.Context, unitID string) ([]Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	records, err := r.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	var stopped []Session
	failures := errors.NewErrorCollection()
	for _, record := range records {
		if record.UnitID != unitID {
			continue
		}
		session := fromRecord(record)
		if err := r.stopLocked(ctx, session); err != nil {
			failures.Add(err)
			continue
		}
		stopped = append(stopped, session)
	}
	return stopped, failures.ToError()
}

func (r *Registry) stopLocked(ctx context.Context, session Session) error {
	if r.isRunning(session.PID, session.Identity) {
		r.logger.Infof("Stopping session, unit: %s, kind: %s, PID: %d", session.UnitID, session.Kind, session.PID)
		if err := r.spawner.Terminate(session.PID, r.options.StopGrace); err != nil {
			return errors.NewProcessError("failed to stop session", err).
				WithContext("unit", session.UnitID).
				WithContext("kind", session.Kind).
				WithContext("pid", session.PID)
		}
	} else {
		r.logger.Infof("Session process already exited, unit: %s, kind: %s, PID: %d", session.UnitID, session.Kind, session.PID)
	}

	if err := r.store.DeleteSession(ctx, session.UnitID, session.Kind); err != nil && !errors.IsNotFoundError(err) {
		return err
	}
	if err := r.files.RemovePIDFile(session.UnitID, session.Kind); err != nil {
		r.logger.Warnf("Failed to remove PID file, unit: %s, kind: %s, error: %v", session.UnitID, session.Kind, err)
	}
	return nil
}

// ListActive returns the live sessions, pruning the dead ones.
func (r *Registry) ListActive(ctx context.Context) ([]Session, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	records, err := r.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	active := make([]Session, 0, len(records))
	for _, record := range records {
		if !r.isRunning(record.PID, record.Identity) {
			if err := r.prune(ctx, record); err != nil {
				return nil, err
			}
			continue
		}
		active = append(active, fromRecord(record))
	}
	return active, nil
}

// isRunning reports whether the recorded process is still alive. A live PID
// whose identity differs belongs to another process and does not count.
func (r *Registry) isRunning(pid int, identity string) bool {
	if !r.spawner.IsAlive(pid) {
		return false
	}
	if identity == "" {
		return true
	}
	current := r.spawner.Identity(pid)
	if current != "" && current != identity {
		r.logger.Warnf("PID reused by another process, PID: %d", pid)
		return false
	}
	return true
}

func (r *Registry) prune(ctx context.Context, record store.SessionRecord) error {
	r.logger.Infof("Pruning stale session, unit: %s, kind: %s, PID: %d", record.UnitID, record.Kind, record.PID)
	if err := r.store.DeleteSession(ctx, record.UnitID, record.Kind); err != nil && !errors.IsNotFoundError(err) {
		return err
	}
	if err := r.files.RemovePIDFile(record.UnitID, record.Kind); err != nil {
		r.logger.Warnf("Failed to remove PID file, unit: %s, kind: %s, error: %v", record.UnitID, record.Kind, err)
	}
	return nil
}

func toRecord(s Session) store.SessionRecord {
	return store.SessionRecord{
		ID:        s.ID,
		UnitID:    s.UnitID,
		Kind:      s.Kind,
		PID:       s.PID,
		Command:   s.Command,
		LogFile:   s.LogFile,
		StartedAt: s.StartedAt,
		Identity:  s.Identity,
	}
}

func fromRecord(r store.SessionRecord) Session {
	return Session{
		ID:        r.ID,
		UnitID:    r.UnitID,
		Kind:      r.Kind,
		PID:       r.PID,
		Command:   r.Command,
		LogFile:   r.LogFile,
		StartedAt: r.StartedAt,
		Identity:  r.Identity,
	}
}

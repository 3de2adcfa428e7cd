// Package store keeps run history and serve sessions in SQLite so that they
// survive across CLI invocations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/core-tools/hsu-envctl/pkg/errors"
)

// DefaultFileName is the database file inside the state directory.
const DefaultFileName = "envctl.db"

// RunRecord is one persisted up, down or verify run.
type RunRecord struct {
	ID        string
	Mode      string
	Targets   []string
	StartedAt time.Time
	Duration  time.Duration
}

// UnitRecord is the outcome of one unit within a run.
type UnitRecord struct {
	RunID         string
	UnitID        string
	State         string
	Message       string
	Error         string
	ExitCode      int
	ProbeAttempts int
	Duration      time.Duration
	UpdatedAt     time.Time
}

// SessionRecord is a background process started by serve.
type SessionRecord struct {
	ID        string
	UnitID    string
	Kind      string
	PID       int
	Command   string
	LogFile   string
	StartedAt time.Time
	// Identity tells the recorded process apart from a later one reusing PID.
	Identity string
}

type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and runs migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.NewIOError("failed to create state directory", err).WithContext("path", path)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewIOError("failed to open state database", err).WithContext("path", path)
	}
	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.NewIOError("failed to open state database", err).WithContext("path", path)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.NewIOError("failed to migrate state database", err).WithContext("path", path)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		targets TEXT NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS unit_results (
		run_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		state TEXT NOT NULL,
		message TEXT,
		error TEXT,
		exit_code INTEGER NOT NULL,
		probe_attempts INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (run_id, unit_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS unit_states (
		unit_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		state TEXT NOT NULL,
		message TEXT,
		error TEXT,
		exit_code INTEGER NOT NULL,
		probe_attempts INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		unit_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		pid INTEGER NOT NULL,
		command TEXT NOT NULL,
		log_file TEXT,
		started_at TEXT NOT NULL,
		identity TEXT NOT NULL DEFAULT '',
		UNIQUE (unit_id, kind)
	);

	CREATE INDEX IF NOT EXISTS idx_unit_results_unit_id ON unit_results(unit_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// --- Runs ---

// RecordRun stores a run with its unit results and updates the latest known
// state of each unit, all in one transaction.
func (s *Store) RecordRun(ctx context.Context, run RunRecord, units []UnitRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewIOError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, mode, targets, started_at, duration_ms) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Mode, strings.Join(run.Targets, ","), ts(run.StartedAt), run.Duration.Milliseconds(),
	)
	if err != nil {
		return errors.NewIOError("failed to insert run", err).WithContext("run", run.ID)
	}

	for _, u := range units {
		if u.UpdatedAt.IsZero() {
			u.UpdatedAt = time.Now()
		}
		args := []interface{}{
			run.ID, u.UnitID, u.State, u.Message, u.Error, u.ExitCode, u.ProbeAttempts, u.Duration.Milliseconds(), ts(u.UpdatedAt),
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO unit_results (run_id, unit_id, state, message, error, exit_code, probe_attempts, duration_ms, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return errors.NewIOError("failed to insert unit result", err).WithContext("unit", u.UnitID)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO unit_states (run_id, unit_id, state, message, error, exit_code, probe_attempts, duration_ms, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(unit_id) DO UPDATE SET
	run_id=excluded.run_id,
	state=excluded.state,
	message=excluded.message,
	error=excluded.error,
	exit_code=excluded.exit_code,
	probe_attempts=excluded.probe_attempts,
	duration_ms=excluded.duration_ms,
	updated_at=excluded.updated_at`, args...); err != nil {
			return errors.NewIOError("failed to update unit state", err).WithContext("unit", u.UnitID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewIOError("failed to commit run", err).WithContext("run", run.ID)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, targets, started_at, duration_ms FROM runs ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.NewIOError("failed to query runs", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var run RunRecord
		var targets, startedAt string
		var durationMs int64
		if err := rows.Scan(&run.ID, &run.Mode, &targets, &startedAt, &durationMs); err != nil {
			return nil, errors.NewIOError("failed to scan run", err)
		}
		if targets != "" {
			run.Targets = strings.Split(targets, ",")
		}
		if run.StartedAt, err = parseTS(startedAt); err != nil {
			return nil, errors.NewIOError("invalid run timestamp", err).WithContext("run", run.ID)
		}
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UnitResults returns the unit results of one run.
func (s *Store) UnitResults(ctx context.Context, runID string) ([]UnitRecord, error) {
	return s.queryUnits(ctx, `
SELECT run_id, unit_id, state, message, error, exit_code, probe_attempts, duration_ms, updated_at
FROM unit_results WHERE run_id = ? ORDER BY rowid`, runID)
}

// LatestUnitStates returns the last recorded state of every unit, keyed by unit ID.
func (s *Store) LatestUnitStates(ctx context.Context) (map[string]UnitRecord, error) {
	records, err := s.queryUnits(ctx, `
SELECT run_id, unit_id, state, message, error, exit_code, probe_attempts, duration_ms, updated_at
FROM unit_states`)
	if err != nil {
		return nil, err
	}
	states := make(map[string]UnitRecord, len(records))
	for _, r := range records {
		states[r.UnitID] = r
	}
	return states, nil
}

func (s *Store) queryUnits(ctx context.Context, query string, args ...interface{}) ([]UnitRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewIOError("failed to query unit results", err)
	}
	defer rows.Close()

	var records []UnitRecord
	for rows.Next() {
		var r UnitRecord
		var message, errText sql.NullString
		var durationMs int64
		var updatedAt string
		if err := rows.Scan(&r.RunID, &r.UnitID, &r.State, &message, &errText, &r.ExitCode, &r.ProbeAttempts, &durationMs, &updatedAt); err != nil {
			return nil, errors.NewIOError("failed to scan unit result", err)
		}
		r.Message = message.String
		r.Error = errText.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if r.UpdatedAt, err = parseTS(updatedAt); err != nil {
			return nil, errors.NewIOError("invalid unit timestamp", err).WithContext("unit", r.UnitID)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Sessions ---

// InsertSession stores a session. A second session for the same unit and
// kind is rejected with a conflict error.
func (s *Store) InsertSession(ctx context.Context, session SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, unit_id, kind, pid, command, log_file, started_at, identity) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UnitID, session.Kind, session.PID, session.Command, session.LogFile, ts(session.StartedAt), session.Identity,
	)
	if isUniqueErr(err) {
		return errors.NewConflictError("session already recorded", err).
			WithContext("unit", session.UnitID).
			WithContext("kind", session.Kind)
	}
	if err != nil {
		return errors.NewIOError("failed to insert session", err).WithContext("unit", session.UnitID)
	}
	return nil
}

// GetSession returns the session for a unit and kind.
func (s *Store) GetSession(ctx context.Context, unitID, kind string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, unit_id, kind, pid, command, log_file, started_at, identity FROM sessions WHERE unit_id = ? AND kind = ?`,
		unitID, kind)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return SessionRecord{}, errors.NewNotFoundError("no session recorded", nil).
			WithContext("unit", unitID).
			WithContext("kind", kind)
	}
	return session, err
}

// DeleteSession removes the session for a unit and kind.
func (s *Store) DeleteSession(ctx context.Context, unitID, kind string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE unit_id = ? AND kind = ?`, unitID, kind)
	if err != nil {
		return errors.NewIOError("failed to delete session", err).WithContext("unit", unitID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.NewIOError("failed to delete session", err).WithContext("unit", unitID)
	}
	if affected == 0 {
		return errors.NewNotFoundError("no session recorded", nil).
			WithContext("unit", unitID).
			WithContext("kind", kind)
	}
	return nil
}

// ListSessions returns all recorded sessions ordered by unit and kind.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, unit_id, kind, pid, command, log_file, started_at, identity FROM sessions ORDER BY unit_id, kind`)
	if err != nil {
		return nil, errors.NewIOError("failed to query sessions", err)
	}
	defer rows.Close()

	var sessions []SessionRecord
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var session SessionRecord
	var logFile sql.NullString
	var startedAt string
	if err := row.Scan(&session.ID, &session.UnitID, &session.Kind, &session.PID, &session.Command, &logFile, &startedAt, &session.Identity); err != nil {
		if err == sql.ErrNoRows {
			return SessionRecord{}, err
		}
		return SessionRecord{}, errors.NewIOError("failed to scan session", err)
	}
	session.LogFile = logFile.String

	var err error
	if session.StartedAt, err = parseTS(startedAt); err != nil {
		return SessionRecord{}, errors.NewIOError("invalid session timestamp", err).WithContext("unit", session.UnitID)
	}
	return session, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

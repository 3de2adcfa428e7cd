package envctl

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-envctl/pkg/config"
	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/executor"
	"github.com/core-tools/hsu-envctl/pkg/graph"
	"github.com/core-tools/hsu-envctl/pkg/logging"
	"github.com/core-tools/hsu-envctl/pkg/planner"
	"github.com/core-tools/hsu-envctl/pkg/probe"
	"github.com/core-tools/hsu-envctl/pkg/processfile"
	"github.com/core-tools/hsu-envctl/pkg/reconciler"
	"github.com/core-tools/hsu-envctl/pkg/report"
	"github.com/core-tools/hsu-envctl/pkg/session"
	"github.com/core-tools/hsu-envctl/pkg/store"
)

// Options carries the command line overrides and the collaborators. Nil
// collaborators get the production implementations.
type Options struct {
	StateDir    string
	Concurrency int
	Output      io.Writer

	Runner  executor.CommandRunner
	Checker probe.Checker
	Spawner session.Spawner
}

// Envctl wires a loaded profile to the planner, reconciler, state store and
// session registry.
type Envctl struct {
	config     *config.ProfileConfig
	graph      *graph.Graph
	planner    *planner.Planner
	executor   *executor.Executor
	reconciler *reconciler.Reconciler
	store      *store.Store
	sessions   *session.Registry
	printer    *report.Printer
	stateDir   string
	logger     logging.Logger
}

// New builds an Envctl for an already validated profile.
func New(ctx context.Context, profile *config.ProfileConfig, options Options, logger logging.Logger) (*Envctl, error) {
	g, err := config.BuildGraph(profile, logger)
	if err != nil {
		return nil, err
	}

	stateDir := resolveStateDir(profile, options.StateDir)
	if err := processfile.EnsureDirectory(stateDir); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, filepath.Join(stateDir, store.DefaultFileName))
	if err != nil {
		return nil, err
	}

	runner := options.Runner
	if runner == nil {
		runner = executor.NewShellRunner(profile.Profile.Shell, profile.Profile.WorkDir)
	}
	checker := options.Checker
	if checker == nil {
		checker = probe.NewChecker(runner)
	}
	spawner := options.Spawner
	if spawner == nil {
		spawner = session.NewProcessSpawner(profile.Profile.Shell, profile.Profile.WorkDir, logging.WithPrefix(logger, "session: "))
	}
	output := options.Output
	if output == nil {
		output = os.Stdout
	}
	concurrency := profile.Profile.Concurrency
	if options.Concurrency > 0 {
		concurrency = options.Concurrency
	}

	exec := executor.NewExecutor(runner, executor.Options{
		Vars: profile.Profile.Vars,
		Env:  profile.Profile.Env,
	}, logging.WithPrefix(logger, "executor: "))
	poller := probe.NewPoller(checker, logging.WithPrefix(logger, "probe: "))
	files := processfile.NewProcessFileManager(processfile.ProcessFileConfig{BaseDirectory: stateDir}, logger)

	logger.Infof("Profile loaded, name: %s, units: %d, state dir: %s, concurrency: %d",
		profile.Profile.Name, len(g.Units()), stateDir, concurrency)

	return &Envctl{
		config:     profile,
		graph:      g,
		planner:    planner.NewPlanner(g),
		executor:   exec,
		reconciler: reconciler.NewReconciler(exec, poller, reconciler.Options{Concurrency: concurrency}, logging.WithPrefix(logger, "reconciler: ")),
		store:      st,
		sessions:   session.NewRegistry(st, files, spawner, session.Options{}, logging.WithPrefix(logger, "sessions: ")),
		printer:    report.NewPrinter(output),
		stateDir:   stateDir,
		logger:     logger,
	}, nil
}

func (e *Envctl) Close() error {
	return e.store.Close()
}

func (e *Envctl) Graph() *graph.Graph {
	return e.graph
}

func (e *Envctl) StateDir() string {
	return e.stateDir
}

// ExportGraph renders the dependency graph as "dot" or "mermaid" text.
func ExportGraph(g *graph.Graph, format string) (string, error) {
	switch strings.ToLower(format) {
	case "", "dot":
		return g.DOT(), nil
	case "mermaid":
		return g.Mermaid(), nil
	default:
		return "", errors.NewValidationError("unsupported graph format: "+format, nil).
			WithContext("supported_formats", "dot, mermaid")
	}
}

// Up brings the targets and their dependencies up. No targets means every unit.
func (e *Envctl) Up(ctx context.Context, targets []string) (reconciler.Report, error) {
	plan, err := e.plan(targets, domain.ModeUp)
	if err != nil {
		return reconciler.Report{}, err
	}
	return e.apply(ctx, plan), nil
}

// Down removes exactly the targets, after stopping their sessions. No
// targets means every unit. Unknown targets reject the whole request before
// anything is stopped.
func (e *Envctl) Down(ctx context.Context, targets []string) (reconciler.Report, error) {
	plan, err := e.plan(targets, domain.ModeDown)
	if err != nil {
		return reconciler.Report{}, err
	}

	e.warnRemainingDependents(ctx, plan.UnitIDs())

	for _, id := range plan.UnitIDs() {
		stopped, err := e.sessions.StopUnit(ctx, id)
		if err != nil {
			e.logger.Errorf("Failed to stop sessions before removal, unit: %s, error: %v", id, err)
		}
		for _, s := range stopped {
			e.logger.Infof("Stopped session before removal, unit: %s, kind: %s", s.UnitID, s.Kind)
		}
	}
	return e.apply(ctx, plan), nil
}

// warnRemainingDependents logs dependents that were recorded ready and stay
// in place while a unit they rely on is removed.
func (e *Envctl) warnRemainingDependents(ctx context.Context, removing []string) {
	removed := make(map[string]bool, len(removing))
	for _, id := range removing {
		removed[id] = true
	}

	latest, err := e.store.LatestUnitStates(ctx)
	if err != nil {
		e.logger.Warnf("Failed to read unit states, error: %v", err)
		return
	}
	for _, id := range removing {
		for _, dependent := range e.graph.Dependents(id) {
			if !removed[dependent] && latest[dependent].State == string(reconciler.StateReady) {
				e.logger.Warnf("Removing unit with a ready dependent, unit: %s, dependent: %s", id, dependent)
			}
		}
	}
}

func (e *Envctl) plan(targets []string, mode domain.Mode) (planner.Plan, error) {
	if len(targets) == 0 {
		targets = e.graph.IDs()
	}

	plan, err := e.planner.Plan(targets, mode)
	if err != nil {
		return planner.Plan{}, err
	}
	e.logger.Infof("Plan ready, mode: %s, order: %s", mode, strings.Join(plan.UnitIDs(), " -> "))
	return plan, nil
}

func (e *Envctl) apply(ctx context.Context, plan planner.Plan) reconciler.Report {
	result := e.reconciler.Apply(ctx, plan)
	e.record(result)
	e.printer.RunSummary(result)
	return result
}

// Status prints the last known state of every unit and the live sessions.
// With verify, units last recorded ready are probed again first and the
// verification report is returned.
func (e *Envctl) Status(ctx context.Context, verify bool) (*reconciler.Report, error) {
	var verification *reconciler.Report
	if verify {
		latest, err := e.store.LatestUnitStates(ctx)
		if err != nil {
			return nil, err
		}

		var ready []graph.Unit
		for _, u := range e.graph.Units() {
			if latest[u.ID].State == string(reconciler.StateReady) {
				ready = append(ready, u)
			}
		}
		result := e.reconciler.Verify(ctx, ready)
		e.record(result)
		verification = &result
	}

	latest, err := e.store.LatestUnitStates(ctx)
	if err != nil {
		return nil, err
	}
	active, err := e.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]report.StatusRow, 0, len(e.graph.Units()))
	for _, u := range e.graph.Units() {
		row := report.StatusRow{Unit: u.ID, Kind: string(u.Kind), State: "unknown"}
		if record, ok := latest[u.ID]; ok {
			row.State = record.State
			row.UpdatedAt = record.UpdatedAt
			row.Detail = record.Error
			if row.Detail == "" {
				row.Detail = record.Message
			}
		}
		rows = append(rows, row)
	}

	sessionRows := make([]report.SessionRow, 0, len(active))
	for _, s := range active {
		sessionRows = append(sessionRows, report.SessionRow{
			Unit: s.UnitID, Kind: s.Kind, PID: s.PID, StartedAt: s.StartedAt, LogFile: s.LogFile,
		})
	}

	if verification != nil {
		e.printer.RunSummary(*verification)
	}
	e.printer.Status(e.config.Profile.Name, rows, sessionRows)
	return verification, nil
}

// History prints the most recent runs. With runID, which may be a prefix,
// it prints the unit outcomes of that run instead.
func (e *Envctl) History(ctx context.Context, limit int, runID string) error {
	runs, err := e.store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	if runID == "" {
		rows := make([]report.HistoryRow, 0, len(runs))
		for _, run := range runs {
			units, err := e.store.UnitResults(ctx, run.ID)
			if err != nil {
				return err
			}
			rows = append(rows, historyRow(run, units))
		}
		e.printer.History(rows)
		return nil
	}

	for _, run := range runs {
		if !strings.HasPrefix(run.ID, runID) {
			continue
		}
		units, err := e.store.UnitResults(ctx, run.ID)
		if err != nil {
			return err
		}
		unitRows := make([]report.UnitRow, 0, len(units))
		for _, u := range units {
			detail := u.Error
			if detail == "" {
				detail = u.Message
			}
			unitRows = append(unitRows, report.UnitRow{
				Unit:          u.UnitID,
				State:         u.State,
				Duration:      u.Duration,
				ProbeAttempts: u.ProbeAttempts,
				ExitCode:      u.ExitCode,
				Detail:        detail,
			})
		}
		e.printer.RunUnits(historyRow(run, units), unitRows)
		return nil
	}
	return errors.NewNotFoundError("no recorded run matches", nil).
		WithContext("run", runID).
		WithContext("searched_runs", len(runs))
}

func historyRow(run store.RunRecord, units []store.UnitRecord) report.HistoryRow {
	counts := make(map[string]int)
	var order []string
	for _, u := range units {
		if counts[u.State] == 0 {
			order = append(order, u.State)
		}
		counts[u.State]++
	}
	parts := make([]string, 0, len(order))
	for _, state := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[state], state))
	}

	return report.HistoryRow{
		RunID:     run.ID,
		Mode:      run.Mode,
		Targets:   run.Targets,
		StartedAt: run.StartedAt,
		Duration:  run.Duration,
		Summary:   strings.Join(parts, ", "),
	}
}

// Serve starts the serve command of unitID as a background session.
func (e *Envctl) Serve(ctx context.Context, unitID, kind string) (session.Session, error) {
	unit, ok := e.graph.Get(unitID)
	if !ok {
		return session.Session{}, errors.NewUnknownUnitError(unitID)
	}
	if unit.Serve == nil {
		return session.Session{}, errors.NewValidationError("unit declares no serve command", nil).WithContext("unit", unitID)
	}
	if kind == "" {
		kind = unit.Serve.Kind
	}
	if kind != unit.Serve.Kind {
		return session.Session{}, errors.NewNotFoundError("unit declares no serve command of this kind", nil).
			WithContext("unit", unitID).
			WithContext("kind", kind).
			WithContext("declared_kind", unit.Serve.Kind)
	}

	action := unit.InstallAction()
	action.Command = unit.Serve.Command
	command, err := e.executor.RenderCommand(action)
	if err != nil {
		return session.Session{}, errors.NewValidationError("serve command could not be rendered", err).WithContext("unit", unitID)
	}

	s, err := e.sessions.Start(ctx, unitID, kind, command, e.executor.Environment(action))
	if err != nil {
		return session.Session{}, err
	}
	e.logger.Infof("Serving, unit: %s, kind: %s, PID: %d, log: %s", s.UnitID, s.Kind, s.PID, s.LogFile)
	return s, nil
}

// Unserve stops the (unitID, kind) session. An empty kind resolves to the
// kind declared by the unit.
func (e *Envctl) Unserve(ctx context.Context, unitID, kind string) error {
	if kind == "" {
		kind = session.DefaultKind
		if unit, ok := e.graph.Get(unitID); ok && unit.Serve != nil {
			kind = unit.Serve.Kind
		}
	}
	return e.sessions.Stop(ctx, unitID, kind)
}

// record persists a run; failures are logged since the run itself is over.
func (e *Envctl) record(result reconciler.Report) {
	run := store.RunRecord{
		ID:        result.RunID,
		Mode:      string(result.Mode),
		Targets:   result.Targets,
		StartedAt: result.StartedAt,
		Duration:  result.Duration,
	}

	units := make([]store.UnitRecord, 0, len(result.Results))
	for _, r := range result.Results {
		record := store.UnitRecord{
			UnitID:        r.UnitID,
			State:         string(r.State),
			Message:       r.Message,
			ExitCode:      -1,
			ProbeAttempts: r.ProbeAttempts,
			Duration:      r.Duration,
		}
		if r.Err != nil {
			record.Error = r.Err.Error()
		}
		if n := len(r.Executions); n > 0 {
			record.ExitCode = r.Executions[n-1].ExitCode
		}
		units = append(units, record)
	}

	// Recorded even when the run was cancelled.
	if err := e.store.RecordRun(context.Background(), run, units); err != nil {
		e.logger.Errorf("Failed to record run, run: %s, error: %v", result.RunID, err)
	}
}

func resolveStateDir(profile *config.ProfileConfig, override string) string {
	switch {
	case override != "":
		return override
	case profile.Profile.StateDir != "":
		return profile.Profile.StateDir
	default:
		return filepath.Join(processfile.DefaultStateDirectory(processfile.DefaultAppName), profile.Profile.Name)
	}
}

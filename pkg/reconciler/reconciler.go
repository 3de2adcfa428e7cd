package reconciler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/executor"
	"github.com/core-tools/hsu-envctl/pkg/graph"
	"github.com/core-tools/hsu-envctl/pkg/logging"
	"github.com/core-tools/hsu-envctl/pkg/planner"
	"github.com/core-tools/hsu-envctl/pkg/probe"
)

const DefaultConcurrency = 4

type Options struct {
	// Concurrency bounds the number of units worked on at once.
	Concurrency int
}

// Reconciler drives plans to completion: actions through the executor,
// readiness through the poller.
type Reconciler struct {
	executor *executor.Executor
	poller   *probe.Poller
	options  Options
	logger   logging.Logger
}

func NewReconciler(exec *executor.Executor, poller *probe.Poller, options Options, logger logging.Logger) *Reconciler {
	if options.Concurrency <= 0 {
		options.Concurrency = DefaultConcurrency
	}
	return &Reconciler{
		executor: exec,
		poller:   poller,
		options:  options,
		logger:   logger,
	}
}

// Apply executes plan. Down plans are delegated to Teardown. A unit is
// dispatched once all of its planned dependencies are ready; a unit whose
// dependency failed or was skipped is skipped itself.
//
// Cancelling ctx stops dispatching. Actions already running finish under
// their own timeout while probes in flight are interrupted.
func (r *Reconciler) Apply(ctx context.Context, plan planner.Plan) Report {
	if plan.Mode == domain.ModeDown {
		return r.Teardown(ctx, plan)
	}

	report := r.newReport(plan.Mode, plan.Targets)
	ids := plan.UnitIDs()
	run := newTracker(ids, StatePending, r.logger)

	r.logger.Infof("Apply started, run: %s, units: %d, concurrency: %d", report.RunID, len(ids), r.options.Concurrency)

	pool := new(errgroup.Group)
	pool.SetLimit(r.options.Concurrency)
	done := make(chan string, len(plan.Steps))

	dispatched := make([]bool, len(plan.Steps))
	remaining := len(plan.Steps)
	inFlight := 0
	cancelled := ctx.Done()

	for remaining > 0 || inFlight > 0 {
		for progressed := true; progressed && remaining > 0; {
			progressed = false
		steps:
			for i, step := range plan.Steps {
				if dispatched[i] {
					continue
				}
				id := step.Unit.ID

				if ctx.Err() != nil {
					run.finish(id, StateSkipped, errors.NewCancelledError("run cancelled before unit started", ctx.Err()).
						WithContext("unit", id), "cancelled")
					dispatched[i] = true
					remaining--
					continue
				}

				if dep, state, blocked := run.blockedBy(step.DependsOn); blocked {
					r.logger.Warnf("Skipping unit, unit: %s, dependency: %s, dependency state: %s", id, dep, state)
					run.finish(id, StateSkipped, dependencyFailed(id, dep, state), "dependency "+dep+" is "+string(state))
					dispatched[i] = true
					remaining--
					progressed = true
					continue
				}

				if !run.allReady(step.DependsOn) {
					continue
				}

				// The control loop must stay free to observe cancellation.
				if inFlight >= r.options.Concurrency {
					break steps
				}

				dispatched[i] = true
				remaining--
				inFlight++
				step := step
				pool.Go(func() error {
					r.applyUnit(ctx, run, step)
					done <- step.Unit.ID
					return nil
				})
			}
		}

		if inFlight == 0 {
			if remaining > 0 {
				r.logger.Errorf("Apply stalled with %d undispatched units", remaining)
				for i, step := range plan.Steps {
					if !dispatched[i] {
						run.finish(step.Unit.ID, StateSkipped,
							errors.NewInternalError("unit could not be scheduled", nil).WithContext("unit", step.Unit.ID), "not scheduled")
					}
				}
			}
			break
		}

		select {
		case <-done:
			inFlight--
		case <-cancelled:
			r.logger.Warnf("Apply cancelled, run: %s, in flight: %d", report.RunID, inFlight)
			cancelled = nil
		}
	}

	_ = pool.Wait()
	return r.completeReport(report, run, ids)
}

// applyUnit runs the install step of one unit and waits for readiness.
func (r *Reconciler) applyUnit(ctx context.Context, run *tracker, step planner.Step) {
	id := step.Unit.ID
	action := step.Action

	if ctx.Err() != nil {
		run.finish(id, StateSkipped, errors.NewCancelledError("run cancelled before unit started", ctx.Err()).
			WithContext("unit", id), "cancelled")
		return
	}

	target, err := r.probeTarget(step.Unit, action)
	if err != nil {
		run.finish(id, StateFailed, err, "probe could not be prepared")
		return
	}

	if !action.Idempotent && action.Command != "" && target.Config.Enabled() {
		run.transition(id, StateProbing)
		status, message := r.poller.CheckOnce(ctx, target)
		run.addProbeAttempts(id, 1)
		if status == probe.StatusReady {
			r.logger.Infof("Unit already ready, install skipped, unit: %s, message: %s", id, message)
			run.addExecution(id, executor.ExecutionResult{
				UnitID:    id,
				Verb:      action.Verb,
				Status:    executor.StatusSkipped,
				ExitCode:  -1,
				StartedAt: time.Now(),
			})
			run.finish(id, StateReady, nil, "already ready")
			return
		}
		r.logger.Debugf("Unit not ready before install, unit: %s, status: %s", id, status)

		if ctx.Err() != nil {
			run.finish(id, StateSkipped, errors.NewCancelledError("run cancelled before install started", ctx.Err()).
				WithContext("unit", id), "cancelled")
			return
		}
	}

	run.transition(id, StateInstalling)
	result := r.executor.Run(context.WithoutCancel(ctx), action)
	run.addExecution(id, result)
	if result.Status == executor.StatusFailed || result.Status == executor.StatusTimedOut {
		run.finish(id, StateFailed, result.Err, string(result.Status))
		return
	}

	if !target.Config.Enabled() {
		run.finish(id, StateReady, nil, "no probe configured")
		return
	}

	run.transition(id, StateProbing)
	poll := r.poller.Poll(ctx, target)
	run.addProbeAttempts(id, poll.Attempts)
	if poll.Ready() {
		run.finish(id, StateReady, nil, poll.Message)
		return
	}
	run.finish(id, StateFailed, poll.Err, poll.Message)
}

// Teardown runs the removal steps one at a time in plan order. A failed
// removal is recorded and the remaining removals still run.
func (r *Reconciler) Teardown(ctx context.Context, plan planner.Plan) Report {
	report := r.newReport(domain.ModeDown, plan.Targets)
	ids := plan.UnitIDs()
	run := newTracker(ids, StatePending, r.logger)
	failures := errors.NewErrorCollection()

	r.logger.Infof("Teardown started, run: %s, units: %d", report.RunID, len(ids))

	for _, step := range plan.Steps {
		id := step.Unit.ID
		if ctx.Err() != nil {
			run.finish(id, StateSkipped, errors.NewCancelledError("run cancelled before removal started", ctx.Err()).
				WithContext("unit", id), "cancelled")
			continue
		}

		run.transition(id, StateRemoving)
		result := r.executor.Run(context.WithoutCancel(ctx), step.Action)
		run.addExecution(id, result)

		switch result.Status {
		case executor.StatusSuccess:
			run.finish(id, StateRemoved, nil, "removed")
		case executor.StatusSkipped:
			run.finish(id, StateRemoved, nil, "no remove command")
		default:
			failures.Add(result.Err)
			run.finish(id, StateFailed, result.Err, string(result.Status))
		}
	}

	if failures.HasErrors() {
		r.logger.Errorf("Teardown completed with errors, run: %s, error: %v", report.RunID, failures)
	}
	return r.completeReport(report, run, ids)
}

// Verify re-probes units previously recorded as ready. A unit whose probe
// budget runs out is reported failed.
func (r *Reconciler) Verify(ctx context.Context, units []graph.Unit) Report {
	ids := make([]string, len(units))
	for i, u := range units {
		ids[i] = u.ID
	}
	report := r.newReport(domain.ModeVerify, ids)
	run := newTracker(ids, StateReady, r.logger)

	pool := new(errgroup.Group)
	pool.SetLimit(r.options.Concurrency)
	for _, u := range units {
		u := u
		pool.Go(func() error {
			target, err := r.probeTarget(u, u.InstallAction())
			if err != nil {
				run.transition(u.ID, StateProbing)
				run.finish(u.ID, StateFailed, err, "probe could not be prepared")
				return nil
			}
			if !target.Config.Enabled() {
				return nil
			}

			run.transition(u.ID, StateProbing)
			poll := r.poller.Poll(ctx, target)
			run.addProbeAttempts(u.ID, poll.Attempts)
			if poll.Ready() {
				run.finish(u.ID, StateReady, nil, poll.Message)
			} else {
				run.finish(u.ID, StateFailed, poll.Err, poll.Message)
			}
			return nil
		})
	}
	_ = pool.Wait()

	return r.completeReport(report, run, ids)
}

func (r *Reconciler) probeTarget(u graph.Unit, action domain.Action) (probe.Target, error) {
	cfg := u.Probe.WithDefaults()

	// Command, URL and address are templates like the action command.
	render := func(text string) (string, error) {
		probeAction := action
		probeAction.Command = text
		return r.executor.RenderCommand(probeAction)
	}
	command, err := render(cfg.Command)
	if err != nil {
		return probe.Target{}, errors.NewValidationError("probe command could not be rendered", err).WithContext("unit", u.ID)
	}
	if cfg.URL, err = render(cfg.URL); err != nil {
		return probe.Target{}, errors.NewValidationError("probe URL could not be rendered", err).WithContext("unit", u.ID)
	}
	if cfg.Address, err = render(cfg.Address); err != nil {
		return probe.Target{}, errors.NewValidationError("probe address could not be rendered", err).WithContext("unit", u.ID)
	}

	target := probe.Target{
		UnitID: u.ID,
		Config: cfg,
		Env:    r.executor.Environment(action),
	}
	if cfg.Type == probe.TypeExec {
		target.Command = command
	}
	return target, nil
}

func (r *Reconciler) newReport(mode domain.Mode, targets []string) Report {
	return Report{
		RunID:     uuid.NewString(),
		Mode:      mode,
		Targets:   targets,
		StartedAt: time.Now(),
	}
}

func (r *Reconciler) completeReport(report Report, run *tracker, ids []string) Report {
	report.Results = run.snapshot(ids)
	report.Duration = time.Since(report.StartedAt)
	r.logger.Infof("Run finished, run: %s, mode: %s, duration: %v", report.RunID, report.Mode, report.Duration)
	return report
}

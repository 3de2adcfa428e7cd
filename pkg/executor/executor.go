package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/logging"
)

// Status is the outcome class of one executed Action.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed-out"
	StatusSkipped  Status = "skipped"
)

// ExecutionResult records the outcome of one Action.
type ExecutionResult struct {
	UnitID    string
	Verb      domain.Verb
	Status    Status
	ExitCode  int
	Stdout    string
	Stderr    string
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

type Options struct {
	Vars map[string]string
	Env  map[string]string
}

// Executor runs Actions through a CommandRunner. It keeps no per-call state
// and is safe for concurrent use.
type Executor struct {
	runner  CommandRunner
	options Options
	logger  logging.Logger
}

func NewExecutor(runner CommandRunner, options Options, logger logging.Logger) *Executor {
	return &Executor{
		runner:  runner,
		options: options,
		logger:  logger,
	}
}

// Run executes action once. It never retries.
func (e *Executor) Run(ctx context.Context, action domain.Action) ExecutionResult {
	result := ExecutionResult{
		UnitID:    action.UnitID,
		Verb:      action.Verb,
		StartedAt: time.Now(),
		ExitCode:  -1,
	}

	if action.Command == "" {
		result.Status = StatusSkipped
		e.logger.Debugf("No command for action, unit: %s, verb: %s", action.UnitID, action.Verb)
		return result
	}

	command, err := e.RenderCommand(action)
	if err != nil {
		result.Status = StatusFailed
		result.Err = errors.NewActionFailedError("command could not be rendered", err).WithContext("unit", action.UnitID)
		e.logger.Errorf("Action failed before start, unit: %s, verb: %s, error: %v", action.UnitID, action.Verb, err)
		return result
	}

	timeout := action.EffectiveTimeout()
	e.logger.Infof("Action started, unit: %s, verb: %s, timeout: %v", action.UnitID, action.Verb, timeout)
	e.logger.Debugf("Action command, unit: %s, command: %q", action.UnitID, command)

	outcome, err := e.runner.Execute(ctx, command, e.environment(action), timeout)
	result.ExitCode = outcome.ExitCode
	result.Stdout = outcome.Stdout
	result.Stderr = outcome.Stderr
	result.Duration = time.Since(result.StartedAt)

	switch {
	case errors.IsTimeoutError(err):
		result.Status = StatusTimedOut
		result.Err = errors.NewActionTimedOutError(fmt.Sprintf("%s timed out after %v", action.Verb, timeout), err).
			WithContext("unit", action.UnitID)
	case err != nil:
		result.Status = StatusFailed
		result.Err = errors.NewActionFailedError(fmt.Sprintf("%s could not complete", action.Verb), err).
			WithContext("unit", action.UnitID)
	case outcome.ExitCode != 0:
		result.Status = StatusFailed
		result.Err = errors.NewActionFailedError(fmt.Sprintf("%s exited with code %d", action.Verb, outcome.ExitCode), nil).
			WithContext("unit", action.UnitID).
			WithContext("stderr", lastLine(outcome.Stderr))
	default:
		result.Status = StatusSuccess
	}

	if result.Err != nil {
		e.logger.Errorf("Action finished, unit: %s, verb: %s, status: %s, duration: %v, error: %v",
			action.UnitID, action.Verb, result.Status, result.Duration, result.Err)
	} else {
		e.logger.Infof("Action finished, unit: %s, verb: %s, status: %s, duration: %v",
			action.UnitID, action.Verb, result.Status, result.Duration)
	}
	return result
}

// RenderCommand expands action.Command against the executor's global vars.
func (e *Executor) RenderCommand(action domain.Action) (string, error) {
	return RenderCommand(action, e.options.Vars)
}

// Environment returns the KEY=VALUE list passed to the command of action.
func (e *Executor) Environment(action domain.Action) []string {
	return e.environment(action)
}

func (e *Executor) environment(action domain.Action) []string {
	merged := make(map[string]string, len(e.options.Env)+len(action.Env))
	for k, v := range e.options.Env {
		merged[k] = v
	}
	for k, v := range action.Env {
		merged[k] = v
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

func lastLine(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == '\n' || s[end-1] == '\r') {
		end--
	}
	start := end
	for start > 0 && s[start-1] != '\n' {
		start--
	}
	return s[start:end]
}

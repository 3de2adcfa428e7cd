package reconciler

import (
	"sync"
	"time"

	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/executor"
	"github.com/core-tools/hsu-envctl/pkg/logging"
)

// State is the lifecycle state of a unit within one run.
type State string

const (
	StatePending    State = "pending"
	StateInstalling State = "installing"
	StateProbing    State = "probing"
	StateReady      State = "ready"
	StateFailed     State = "failed"
	StateSkipped    State = "skipped"
	StateRemoving   State = "removing"
	StateRemoved    State = "removed"
)

// IsTerminal reports whether a run leaves the unit in this state.
func (s State) IsTerminal() bool {
	switch s {
	case StateReady, StateFailed, StateSkipped, StateRemoved:
		return true
	}
	return false
}

var transitions = map[State][]State{
	StatePending:    {StateInstalling, StateProbing, StateSkipped, StateFailed, StateRemoving},
	StateInstalling: {StateProbing, StateReady, StateFailed},
	StateProbing:    {StateInstalling, StateReady, StateFailed, StateSkipped},
	StateReady:      {StateProbing, StateRemoving},
	StateRemoving:   {StateRemoved, StateFailed},
	StateFailed:     {StateRemoving},
	StateSkipped:    {StateRemoving},
	StateRemoved:    {},
}

// CanTransition validates a state change against the transition table.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// UnitResult is the outcome of one unit in a run.
type UnitResult struct {
	UnitID        string
	State         State
	Err           error
	Message       string
	Executions    []executor.ExecutionResult
	ProbeAttempts int
	StartedAt     time.Time
	Duration      time.Duration
}

// tracker holds the per-run unit states. Workers and the control goroutine
// both update it, so every access goes through the mutex.
type tracker struct {
	mutex   sync.Mutex
	results map[string]*UnitResult
	logger  logging.Logger
}

func newTracker(ids []string, initial State, logger logging.Logger) *tracker {
	t := &tracker{
		results: make(map[string]*UnitResult, len(ids)),
		logger:  logger,
	}
	for _, id := range ids {
		t.results[id] = &UnitResult{UnitID: id, State: initial}
	}
	return t
}

func (t *tracker) state(id string) State {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.results[id].State
}

func (t *tracker) transition(id string, to State) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.transitionLocked(id, to)
}

func (t *tracker) transitionLocked(id string, to State) bool {
	result := t.results[id]
	from := result.State
	if !CanTransition(from, to) {
		t.logger.Errorf("Invalid state transition rejected, unit: %s, from: %s, to: %s", id, from, to)
		return false
	}

	if result.StartedAt.IsZero() {
		result.StartedAt = time.Now()
	}
	result.State = to
	if to.IsTerminal() {
		result.Duration = time.Since(result.StartedAt)
	}
	t.logger.Infof("Unit state changed, unit: %s, from: %s, to: %s", id, from, to)
	return true
}

// finish moves the unit to a terminal state and records why.
func (t *tracker) finish(id string, to State, err error, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.transitionLocked(id, to) {
		return
	}
	result := t.results[id]
	result.Err = err
	result.Message = message
}

func (t *tracker) addExecution(id string, execution executor.ExecutionResult) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.results[id].Executions = append(t.results[id].Executions, execution)
}

func (t *tracker) addProbeAttempts(id string, attempts int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.results[id].ProbeAttempts += attempts
}

// blockedBy returns the first dependency that ended without becoming ready.
func (t *tracker) blockedBy(deps []string) (string, State, bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for _, dep := range deps {
		switch state := t.results[dep].State; state {
		case StateFailed, StateSkipped:
			return dep, state, true
		}
	}
	return "", "", false
}

func (t *tracker) allReady(deps []string) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	for _, dep := range deps {
		if t.results[dep].State != StateReady {
			return false
		}
	}
	return true
}

// snapshot copies the results in the given order.
func (t *tracker) snapshot(ids []string) []UnitResult {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	out := make([]UnitResult, 0, len(ids))
	for _, id := range ids {
		result := *t.results[id]
		result.Executions = append([]executor.ExecutionResult(nil), result.Executions...)
		out = append(out, result)
	}
	return out
}

func dependencyFailed(unitID, dep string, state State) error {
	return errors.NewDependencyFailedError("dependency did not become ready", nil).
		WithContext("unit", unitID).
		WithContext("dependency", dep).
		WithContext("dependency_state", string(state))
}

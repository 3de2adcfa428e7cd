package reconciler

import (
	"time"

	"github.com/core-tools/hsu-envctl/pkg/domain"
)

// Report is the outcome of one reconciliation run, in plan order.
type Report struct {
	RunID     string
	Mode      domain.Mode
	Targets   []string
	Results   []UnitResult
	StartedAt time.Time
	Duration  time.Duration
}

// Result returns the result of one unit.
func (r Report) Result(unitID string) (UnitResult, bool) {
	for _, result := range r.Results {
		if result.UnitID == unitID {
			return result, true
		}
	}
	return UnitResult{}, false
}

// States maps each unit to its terminal state.
func (r Report) States() map[string]State {
	states := make(map[string]State, len(r.Results))
	for _, result := range r.Results {
		states[result.UnitID] = result.State
	}
	return states
}

func (r Report) Count(state State) int {
	n := 0
	for _, result := range r.Results {
		if result.State == state {
			n++
		}
	}
	return n
}

// Succeeded is true when every unit reached the goal state of the mode.
func (r Report) Succeeded() bool {
	goal := StateReady
	if r.Mode == domain.ModeDown {
		goal = StateRemoved
	}
	return r.Count(goal) == len(r.Results)
}

func (r Report) HasFailures() bool {
	return r.Count(StateFailed) > 0
}

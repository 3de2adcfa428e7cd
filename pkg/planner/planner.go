package planner

import (
	"container/heap"
	"fmt"

	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/errors"
	"github.com/core-tools/hsu-envctl/pkg/graph"
)

// Step is one planned action together with the unit it targets.
type Step struct {
	Unit   graph.Unit
	Action domain.Action
	// DependsOn lists the dependencies of the unit that are part of the plan.
	DependsOn []string
}

// Plan is an ordered sequence of steps. For ModeUp every dependency appears
// before its dependents; ModeDown is the reverse.
type Plan struct {
	Mode    domain.Mode
	Targets []string
	Steps   []Step
}

// UnitIDs returns the unit order of the plan.
func (p Plan) UnitIDs() []string {
	out := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Unit.ID
	}
	return out
}

// Actions returns the plan's actions in order.
func (p Plan) Actions() []domain.Action {
	out := make([]domain.Action, len(p.Steps))
	for i, s := range p.Steps {
		out[i] = s.Action
	}
	return out
}

type Planner struct {
	graph *graph.Graph
}

func NewPlanner(g *graph.Graph) *Planner {
	return &Planner{graph: g}
}

// Plan orders the actions for targets. Up plans cover the targets and all
// their transitive dependencies; down plans cover the targets only and never
// cascade to units that were not requested.
func (p *Planner) Plan(targets []string, mode domain.Mode) (Plan, error) {
	if len(targets) == 0 {
		return Plan{}, errors.NewValidationError("at least one target unit is required", nil)
	}
	if mode != domain.ModeUp && mode != domain.ModeDown {
		return Plan{}, errors.NewValidationError(fmt.Sprintf("unsupported plan mode: %s", mode), nil)
	}

	resolved, err := p.graph.Resolve(targets)
	if err != nil {
		return Plan{}, err
	}

	order, err := p.topologicalOrder(resolved)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{Mode: mode, Targets: dedupe(targets)}

	if mode == domain.ModeUp {
		inPlan := make(map[string]bool, len(order))
		for _, u := range order {
			inPlan[u.ID] = true
		}
		for _, u := range order {
			plan.Steps = append(plan.Steps, Step{
				Unit:      u,
				Action:    u.InstallAction(),
				DependsOn: filter(u.DependsOn, inPlan),
			})
		}
		return plan, nil
	}

	targetSet := make(map[string]bool, len(targets))
	for _, id := range targets {
		targetSet[id] = true
	}
	for i := len(order) - 1; i >= 0; i-- {
		u := order[i]
		if !targetSet[u.ID] {
			continue
		}
		plan.Steps = append(plan.Steps, Step{
			Unit:      u,
			Action:    u.RemoveAction(),
			DependsOn: filter(u.DependsOn, targetSet),
		})
	}
	return plan, nil
}

// topologicalOrder is Kahn's algorithm over the resolved subgraph; among the
// units whose dependencies are satisfied the earliest declared one goes first,
// so identical input always yields the identical plan.
func (p *Planner) topologicalOrder(units []graph.Unit) ([]graph.Unit, error) {
	byID := make(map[string]graph.Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}

	indegree := make(map[string]int, len(units))
	dependents := make(map[string][]string, len(units))
	for _, u := range units {
		for _, dep := range u.DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			indegree[u.ID]++
			dependents[dep] = append(dependents[dep], u.ID)
		}
	}

	ready := &declarationQueue{graph: p.graph}
	for _, u := range units {
		if indegree[u.ID] == 0 {
			heap.Push(ready, u.ID)
		}
	}

	order := make([]graph.Unit, 0, len(units))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		order = append(order, byID[id])
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				heap.Push(ready, dependent)
			}
		}
	}

	if len(order) != len(units) {
		var remaining []string
		for _, u := range units {
			if indegree[u.ID] > 0 {
				remaining = append(remaining, u.ID)
			}
		}
		return nil, errors.NewCyclicDependencyError(remaining)
	}
	return order, nil
}

// declarationQueue is a min-heap of unit IDs keyed by declaration index.
type declarationQueue struct {
	graph *graph.Graph
	ids   []string
}

func (q *declarationQueue) Len() int { return len(q.ids) }
func (q *declarationQueue) Less(i, j int) bool {
	return q.graph.Index(q.ids[i]) < q.graph.Index(q.ids[j])
}
func (q *declarationQueue) Swap(i, j int)      { q.ids[i], q.ids[j] = q.ids[j], q.ids[i] }
func (q *declarationQueue) Push(x interface{}) { q.ids = append(q.ids, x.(string)) }
func (q *declarationQueue) Pop() interface{} {
	n := len(q.ids)
	id := q.ids[n-1]
	q.ids = q.ids[:n-1]
	return id
}

func filter(ids []string, keep map[string]bool) []string {
	var out []string
	for _, id := range ids {
		if keep[id] {
			out = append(out, id)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

package graph

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-envctl/pkg/errors"
)

const maxUnitIDLength = 64

// Graph is the immutable dependency graph of units. Edges point from a unit to
// the units it depends on. It is safe for concurrent reads.
type Graph struct {
	units []Unit
	index map[string]int
}

// New validates units and builds the graph. Units keep their declaration
// order, which is used to break ties when ordering.
func New(units []Unit) (*Graph, error) {
	g := &Graph{
		units: make([]Unit, len(units)),
		index: make(map[string]int, len(units)),
	}

	for i, u := range units {
		if err := ValidateUnitID(u.ID); err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("invalid unit ID at index %d", i), err).WithContext("unit", u.ID)
		}
		if prev, exists := g.index[u.ID]; exists {
			return nil, errors.NewValidationError(
				fmt.Sprintf("duplicate unit ID '%s' found at indices %d and %d", u.ID, prev, i), nil)
		}
		g.index[u.ID] = i

		u.DependsOn = append([]string(nil), u.DependsOn...)
		g.units[i] = u
	}

	for _, u := range g.units {
		seen := make(map[string]bool, len(u.DependsOn))
		for _, dep := range u.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, errors.NewUnknownUnitError(dep).WithContext("required_by", u.ID)
			}
			if dep == u.ID {
				return nil, errors.NewCyclicDependencyError([]string{u.ID, u.ID})
			}
			if seen[dep] {
				return nil, errors.NewValidationError("duplicate dependency", nil).WithContext("unit", u.ID).WithContext("dependency", dep)
			}
			seen[dep] = true
		}
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs a depth-first traversal keeping the recursion stack; a
// back edge onto the stack is a cycle.
func (g *Graph) checkAcyclic() error {
	const (
		unvisited = iota
		onStack
		done
	)
	state := make([]int, len(g.units))
	var stack []string

	var visit func(i int) error
	visit = func(i int) error {
		state[i] = onStack
		stack = append(stack, g.units[i].ID)
		for _, dep := range g.units[i].DependsOn {
			j := g.index[dep]
			switch state[j] {
			case onStack:
				return errors.NewCyclicDependencyError(cyclePath(stack, dep))
			case unvisited:
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[i] = done
		return nil
	}

	for i := range g.units {
		if state[i] == unvisited {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

func cyclePath(stack []string, start string) []string {
	for i, id := range stack {
		if id == start {
			path := append([]string(nil), stack[i:]...)
			return append(path, start)
		}
	}
	return append(append([]string(nil), stack...), start)
}

// Get returns the unit with the given ID.
func (g *Graph) Get(id string) (Unit, bool) {
	i, ok := g.index[id]
	if !ok {
		return Unit{}, false
	}
	return g.units[i], true
}

// Index returns the declaration position of id, or -1.
func (g *Graph) Index(id string) int {
	i, ok := g.index[id]
	if !ok {
		return -1
	}
	return i
}

// Units returns all units in declaration order.
func (g *Graph) Units() []Unit {
	return append([]Unit(nil), g.units...)
}

// IDs returns all unit IDs in declaration order.
func (g *Graph) IDs() []string {
	ids := make([]string, len(g.units))
	for i, u := range g.units {
		ids[i] = u.ID
	}
	return ids
}

// Resolve returns the target units plus the transitive closure of their
// dependencies, in declaration order.
func (g *Graph) Resolve(ids []string) ([]Unit, error) {
	selected := make([]bool, len(g.units))

	var visit func(i int)
	visit = func(i int) {
		if selected[i] {
			return
		}
		selected[i] = true
		for _, dep := range g.units[i].DependsOn {
			visit(g.index[dep])
		}
	}

	for _, id := range ids {
		i, ok := g.index[id]
		if !ok {
			return nil, errors.NewUnknownUnitError(id)
		}
		visit(i)
	}

	resolved := make([]Unit, 0, len(ids))
	for i, u := range g.units {
		if selected[i] {
			resolved = append(resolved, u)
		}
	}
	return resolved, nil
}

// Dependents returns the IDs of units that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	var dependents []string
	for _, u := range g.units {
		for _, dep := range u.DependsOn {
			if dep == id {
				dependents = append(dependents, u.ID)
				break
			}
		}
	}
	return dependents
}

// ValidateUnitID validates unit ID format and constraints
func ValidateUnitID(id string) error {
	if id == "" {
		return errors.NewValidationError("unit ID cannot be empty", nil)
	}
	if len(id) > maxUnitIDLength {
		return errors.NewValidationError(fmt.Sprintf("unit ID cannot exceed %d characters", maxUnitIDLength), nil)
	}
	for _, char := range id {
		if !isValidIDChar(char) {
			return errors.NewValidationError("unit ID contains invalid characters: only letters, numbers, dots, hyphens, and underscores are allowed", nil)
		}
	}
	if strings.HasPrefix(id, ".") {
		return errors.NewValidationError("unit ID cannot start with a dot", nil)
	}
	return nil
}

func isValidIDChar(char rune) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '_' || char == '.'
}

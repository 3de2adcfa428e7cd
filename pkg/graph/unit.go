package graph

import (
	"time"

	"github.com/core-tools/hsu-envctl/pkg/domain"
	"github.com/core-tools/hsu-envctl/pkg/probe"
)

// DefaultServeKind is the session kind of a serve command declared without one.
const DefaultServeKind = "port-forward"

// ServeSpec declares the long-running background process of a unit, such as
// a port-forwarding tunnel.
type ServeSpec struct {
	Kind    string
	Command string
}

// Unit is a deployable resource.
type Unit struct {
	ID             string
	Kind           domain.Kind
	Description    string
	DependsOn      []string
	InstallCommand string
	RemoveCommand  string
	Probe          probe.Config
	Timeout        time.Duration
	Idempotent     bool
	Env            map[string]string
	Vars           map[string]string
	Serve          *ServeSpec
}

// InstallAction builds the up action of the unit.
func (u Unit) InstallAction() domain.Action {
	return domain.Action{
		UnitID:     u.ID,
		Kind:       u.Kind,
		Verb:       domain.InstallVerb(u.Kind, u.InstallCommand != ""),
		Command:    u.InstallCommand,
		Timeout:    u.Timeout,
		Idempotent: u.Idempotent,
		Env:        u.Env,
		Vars:       u.Vars,
	}
}

// RemoveAction builds the down action of the unit. Removal commands are
// expected to be remove-if-exists and are therefore marked idempotent.
func (u Unit) RemoveAction() domain.Action {
	return domain.Action{
		UnitID:     u.ID,
		Kind:       u.Kind,
		Verb:       domain.VerbUninstall,
		Command:    u.RemoveCommand,
		Timeout:    u.Timeout,
		Idempotent: true,
		Env:        u.Env,
		Vars:       u.Vars,
	}
}

package domain

import (
	"time"
)

// Kind is the category of a deployable unit.
type Kind string

const (
	KindNamespace      Kind = "namespace"
	KindPackageRelease Kind = "package-release"
	KindManifestSet    Kind = "manifest-set"
	KindBuildArtifact  Kind = "build-artifact"
	KindSecret         Kind = "secret"
)

// Kinds lists every supported unit kind.
var Kinds = []Kind{KindNamespace, KindPackageRelease, KindManifestSet, KindBuildArtifact, KindSecret}

func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Verb is the imperative step an Action performs.
type Verb string

const (
	VerbInstall      Verb = "install"
	VerbUninstall    Verb = "uninstall"
	VerbBuild        Verb = "build"
	VerbApply        Verb = "apply"
	VerbWait         Verb = "wait"
	VerbCreateSecret Verb = "create-secret"
)

// Mode selects the direction of a plan.
type Mode string

const (
	ModeUp   Mode = "up"
	ModeDown Mode = "down"

	// ModeVerify re-probes units without running actions.
	ModeVerify Mode = "verify"
)

const (
	ShortActionTimeout = 2 * time.Minute
	LongActionTimeout  = 10 * time.Minute
)

// Action is a single imperative step against one unit.
type Action struct {
	UnitID     string
	Kind       Kind
	Verb       Verb
	Command    string // text/template source
	Timeout    time.Duration
	Idempotent bool
	Env        map[string]string
	Vars       map[string]string
}

// EffectiveTimeout returns the configured timeout or the verb default.
func (a Action) EffectiveTimeout() time.Duration {
	if a.Timeout > 0 {
		return a.Timeout
	}
	return DefaultTimeout(a.Verb)
}

// DefaultTimeout is short for state-applying verbs and long for installs,
// builds, removals and waits.
func DefaultTimeout(verb Verb) time.Duration {
	switch verb {
	case VerbApply, VerbCreateSecret:
		return ShortActionTimeout
	default:
		return LongActionTimeout
	}
}

// InstallVerb derives the up verb for a unit kind. A unit that only waits on
// its probe gets VerbWait.
func InstallVerb(kind Kind, hasCommand bool) Verb {
	if !hasCommand {
		return VerbWait
	}
	switch kind {
	case KindPackageRelease:
		return VerbInstall
	case KindBuildArtifact:
		return VerbBuild
	case KindSecret:
		return VerbCreateSecret
	default:
		return VerbApply
	}
}

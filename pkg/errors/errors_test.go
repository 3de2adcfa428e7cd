package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := NewActionFailedError("install failed", fmt.Errorf("exit status 1")).WithContext("unit", "minio")
	assert.Equal(t, "action_failed: install failed [unit=minio]: exit status 1", err.Error())

	plain := NewValidationError("profile path is required", nil)
	assert.Equal(t, "validation: profile path is required", plain.Error())
}

func TestDomainError_ContextIsSorted(t *testing.T) {
	err := NewSessionAlreadyActiveError("web", "port-forward")
	assert.Equal(t, "session_already_active: session already active [kind=port-forward unit=web]", err.Error())
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"unknown_unit", NewUnknownUnitError("x"), IsUnknownUnitError},
		{"cyclic", NewCyclicDependencyError([]string{"a", "b", "a"}), IsCyclicDependencyError},
		{"action_failed", NewActionFailedError("boom", nil), IsActionFailedError},
		{"timed_out", NewActionTimedOutError("slow", nil), IsActionTimedOutError},
		{"probe_exhausted", NewProbeExhaustedError("never ready", nil), IsProbeExhaustedError},
		{"dependency_failed", NewDependencyFailedError("dep", nil), IsDependencyFailedError},
		{"session", NewSessionAlreadyActiveError("u", "k"), IsSessionAlreadyActiveError},
		{"not_found", NewNotFoundError("missing", nil), IsNotFoundError},
		{"cancelled", NewCancelledError("stop", nil), IsCancelledError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(fmt.Errorf("plain")))
		})
	}
}

func TestGraphErrorsAreFoundThroughWrapping(t *testing.T) {
	inner := NewCyclicDependencyError([]string{"a", "b", "a"})
	outer := NewValidationError("invalid profile", inner)

	assert.True(t, IsValidationError(outer))
	assert.True(t, IsCyclicDependencyError(outer))
	assert.False(t, IsUnknownUnitError(outer))
	assert.Equal(t, ErrorTypeValidation, TypeOf(outer))
	assert.True(t, stderrors.Is(outer, inner))
}

func TestErrorCollection(t *testing.T) {
	collection := NewErrorCollection()
	assert.False(t, collection.HasErrors())
	assert.NoError(t, collection.ToError())

	collection.Add(nil)
	collection.Add(fmt.Errorf("first"))
	collection.Add(fmt.Errorf("second"))

	assert.True(t, collection.HasErrors())
	assert.Equal(t, "2 errors occurred, first: first", collection.Error())
	assert.Error(t, collection.ToError())
}

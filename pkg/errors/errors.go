package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType classifies domain errors so callers can branch on the category
// instead of the message.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeConflict    ErrorType = "conflict"
	ErrorTypeProcess     ErrorType = "process"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeIO          ErrorType = "io"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeCancelled   ErrorType = "cancelled"
	ErrorTypeUnknownUnit ErrorType = "unknown_unit"
	ErrorTypeCyclic      ErrorType = "cyclic_dependency"

	// Per-unit execution failures, recorded in the run report.
	ErrorTypeActionFailed     ErrorType = "action_failed"
	ErrorTypeActionTimedOut   ErrorType = "action_timed_out"
	ErrorTypeProbeExhausted   ErrorType = "probe_exhausted"
	ErrorTypeDependencyFailed ErrorType = "dependency_failed"

	ErrorTypeSessionAlreadyActive ErrorType = "session_already_active"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if len(e.Context) > 0 {
		msg += " [" + formatContext(e.Context) + "]"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is matches any DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func formatContext(ctx map[string]interface{}) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, ctx[k]))
	}
	return strings.Join(parts, " ")
}

func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewProcessError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcess, message, cause)
}

func NewTimeoutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTimeout, message, cause)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

func NewCancelledError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeCancelled, message, cause)
}

// NewUnknownUnitError reports a unit identifier that is not declared in the graph
func NewUnknownUnitError(unitID string) *DomainError {
	return NewDomainError(ErrorTypeUnknownUnit, "unknown unit", nil).WithContext("unit", unitID)
}

// NewCyclicDependencyError reports a dependency cycle; path lists the units
// along the cycle with the first unit repeated at the end.
func NewCyclicDependencyError(path []string) *DomainError {
	return NewDomainError(ErrorTypeCyclic, "dependency cycle detected: "+strings.Join(path, " -> "), nil)
}

func NewActionFailedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeActionFailed, message, cause)
}

func NewActionTimedOutError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeActionTimedOut, message, cause)
}

func NewProbeExhaustedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProbeExhausted, message, cause)
}

func NewDependencyFailedError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeDependencyFailed, message, cause)
}

func NewSessionAlreadyActiveError(unitID, kind string) *DomainError {
	return NewDomainError(ErrorTypeSessionAlreadyActive, "session already active", nil).
		WithContext("unit", unitID).
		WithContext("kind", kind)
}

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Type == t
}

// TypeOf returns the type of the outermost DomainError in the chain, or an
// empty string when err carries none.
func TypeOf(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool   { return hasType(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool   { return hasType(err, ErrorTypeConflict) }
func IsProcessError(err error) bool    { return hasType(err, ErrorTypeProcess) }
func IsTimeoutError(err error) bool    { return hasType(err, ErrorTypeTimeout) }
func IsIOError(err error) bool         { return hasType(err, ErrorTypeIO) }
func IsInternalError(err error) bool   { return hasType(err, ErrorTypeInternal) }
func IsCancelledError(err error) bool  { return hasType(err, ErrorTypeCancelled) }

// Graph errors are wrapped by configuration and planning layers, so these
// predicates search the whole chain rather than the outermost error only.

func IsUnknownUnitError(err error) bool { return chainHasType(err, ErrorTypeUnknownUnit) }
func IsCyclicDependencyError(err error) bool {
	return chainHasType(err, ErrorTypeCyclic)
}

func IsActionFailedError(err error) bool     { return hasType(err, ErrorTypeActionFailed) }
func IsActionTimedOutError(err error) bool   { return hasType(err, ErrorTypeActionTimedOut) }
func IsProbeExhaustedError(err error) bool   { return hasType(err, ErrorTypeProbeExhausted) }
func IsDependencyFailedError(err error) bool { return hasType(err, ErrorTypeDependencyFailed) }
func IsSessionAlreadyActiveError(err error) bool {
	return chainHasType(err, ErrorTypeSessionAlreadyActive)
}

func chainHasType(err error, t ErrorType) bool {
	return errors.Is(err, &DomainError{Type: t})
}

// ErrorCollection aggregates errors from bulk operations such as teardown
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred, first: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}

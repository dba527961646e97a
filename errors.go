package antler

import (
	"errors"
	"fmt"
)

// Sentinel errors for structural misuse. These abort the offending call
// and only that call; they never corrupt session state.
var (
	// ErrSessionDisposed is returned by every operation on a disposed
	// session. Disposal itself stays idempotent.
	ErrSessionDisposed = errors.New("antler: session is disposed")

	// ErrInvalidFact is returned when a payload is not a non-nil pointer.
	ErrInvalidFact = errors.New("antler: fact payload must be a non-nil pointer")

	// ErrTypeChanged is returned by Modify when the replacement payload
	// carries a different type tag. Changing a fact's type under a stable
	// identity is not supported: retract and assert a new fact instead.
	ErrTypeChanged = errors.New("antler: modify cannot change a fact's type tag")

	// ErrUnknownGroup is returned by Focus for a group no rule declares.
	ErrUnknownGroup = errors.New("antler: unknown agenda group")

	// ErrHalted is recorded when a fire loop stops on a cooperative halt.
	// It is informational; match calls do not return it.
	ErrHalted = errors.New("antler: session halted")
)

// BuildError reports a defect in a flow definition, detected at
// construction time before the flow is usable.
type BuildError struct {
	Flow    string
	Rule    string
	Message string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("antler: flow %q rule %q: %s", e.Flow, e.Rule, e.Message)
	}
	return fmt.Sprintf("antler: flow %q: %s", e.Flow, e.Message)
}

// IsBuildError reports whether err is (or wraps) a BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// FiringQuotaError is returned when a fire loop exceeds the configured
// maximum firing count (WithMaxFirings). Unlike a predicate or action
// failure, exceeding the quota terminates the whole match call: a loop
// that long is assumed to be a runaway rule set.
type FiringQuotaError struct {
	Session string // session token
	Firings int    // firings attempted in this call
	Limit   int    // configured maximum
}

// Error implements the error interface.
func (e *FiringQuotaError) Error() string {
	return fmt.Sprintf("antler: session %s exceeded max firings: %d > %d limit",
		e.Session, e.Firings, e.Limit)
}

// IsFiringQuotaError reports whether err is (or wraps) a FiringQuotaError.
// Uses errors.As to handle wrapped errors.
func IsFiringQuotaError(err error) bool {
	var qe *FiringQuotaError
	return errors.As(err, &qe)
}

// DiagnosticStage identifies where a recoverable evaluation failure
// happened.
type DiagnosticStage string

const (
	// StageCondition marks a condition predicate that failed during
	// evaluation. The candidate pairing is treated as "does not match"
	// and evaluation of other candidates continues.
	StageCondition DiagnosticStage = "condition"

	// StageAction marks a rule action that failed during firing. The
	// firing is recorded as failed and the loop continues with other
	// pending activations.
	StageAction DiagnosticStage = "action"
)

// Diagnostic records a non-fatal evaluation failure surfaced to the
// session: a panicking predicate or a failed action. One bad predicate
// must not stall the network, so these are collected rather than raised.
type Diagnostic struct {
	Seq   int64           // logical clock stamp
	Rule  string          // rule whose condition or action failed
	Stage DiagnosticStage // condition or action
	Err   error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("seq=%d rule=%s stage=%s err=%v", d.Seq, d.Rule, d.Stage, d.Err)
}

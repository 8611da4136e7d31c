// Package errs defines the error kinds the engine raises, per the error
// handling design: each kind carries a stack frame so the CLI can print a
// useful trace without the caller having to wrap it again.
package errs

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Code identifies which of the fixed error kinds a Coded error represents.
type Code int

const (
	// CodeStateMachineViolation: apply invoked in a non-{loaded,spun_up}
	// state, double-spin, or a transient step returned a persistable value.
	CodeStateMachineViolation Code = iota
	// CodeLockTimeout: lock acquisition exceeded its bound.
	CodeLockTimeout
	// CodeCacheCorruption: deserialized machine's embedded path didn't
	// match its location on disk, or a mandatory field was missing.
	CodeCacheCorruption
	// CodeFreshnessConflict: finalize found a pre-existing fresh entry at
	// the target — a concurrent-build race the engine lost without the lock.
	CodeFreshnessConflict
	// CodeStepFailure: a step function returned an error.
	CodeStepFailure
)

func (c Code) String() string {
	switch c {
	case CodeStateMachineViolation:
		return "StateMachineViolation"
	case CodeLockTimeout:
		return "LockTimeout"
	case CodeCacheCorruption:
		return "CacheCorruption"
	case CodeFreshnessConflict:
		return "FreshnessConflict"
	case CodeStepFailure:
		return "StepFailure"
	default:
		return "Unknown"
	}
}

// Coded is a coded error carrying an xerrors.Frame, so that callers can
// xerrors.As it and inspect both the Code and the call site that raised it.
type Coded struct {
	Code    Code
	Message string
	frame   xerrors.Frame
}

// New builds a Coded error, capturing the caller's frame.
func New(code Code, message string) *Coded {
	return &Coded{Code: code, Message: message, frame: xerrors.Caller(1)}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code Code, format string, args ...interface{}) *Coded {
	return &Coded{Code: code, Message: fmt.Sprintf(format, args...), frame: xerrors.Caller(1)}
}

func (e *Coded) Error() string {
	return fmt.Sprintf("%s", e)
}

// Format implements fmt.Formatter so that "%+v" prints the captured frame.
func (e *Coded) Format(f fmt.State, c rune) { xerrors.FormatError(e, f, c) }

// FormatError implements xerrors.Formatter.
func (e *Coded) FormatError(p xerrors.Printer) error {
	p.Printf("%s: %s", e.Code, e.Message)
	e.frame.Format(p)
	return nil
}

// Is lets errors.Is match two Coded errors with the same Code.
func (e *Coded) Is(target error) bool {
	other, ok := target.(*Coded)
	if !ok {
		return false
	}
	return other.Code == e.Code
}

// HasCode reports whether err is (or wraps) a Coded error with the given code.
func HasCode(err error, code Code) bool {
	var coded *Coded
	if xerrors.As(err, &coded) {
		return coded.Code == code
	}
	return false
}

// StateMachineViolation builds a CodeStateMachineViolation error.
func StateMachineViolation(format string, args ...interface{}) *Coded {
	return &Coded{Code: CodeStateMachineViolation, Message: fmt.Sprintf(format, args...), frame: xerrors.Caller(1)}
}

// LockTimeout builds a CodeLockTimeout error.
func LockTimeout(format string, args ...interface{}) *Coded {
	return &Coded{Code: CodeLockTimeout, Message: fmt.Sprintf(format, args...), frame: xerrors.Caller(1)}
}

// CacheCorruption builds a CodeCacheCorruption error.
func CacheCorruption(format string, args ...interface{}) *Coded {
	return &Coded{Code: CodeCacheCorruption, Message: fmt.Sprintf(format, args...), frame: xerrors.Caller(1)}
}

// FreshnessConflict builds a CodeFreshnessConflict error.
func FreshnessConflict(format string, args ...interface{}) *Coded {
	return &Coded{Code: CodeFreshnessConflict, Message: fmt.Sprintf(format, args...), frame: xerrors.Caller(1)}
}

// StepFailure wraps an underlying step error with the StepFailure code,
// preserving the original error for unwrapping.
type StepFailure struct {
	Step string
	Err  error
	frame xerrors.Frame
}

// NewStepFailure wraps err as a StepFailure raised while running step.
func NewStepFailure(step string, err error) *StepFailure {
	return &StepFailure{Step: step, Err: err, frame: xerrors.Caller(1)}
}

func (e *StepFailure) Error() string { return fmt.Sprintf("%s", e) }

func (e *StepFailure) Unwrap() error { return e.Err }

// FormatError implements xerrors.Formatter.
func (e *StepFailure) FormatError(p xerrors.Printer) error {
	p.Printf("step %q failed: %v", e.Step, e.Err)
	e.frame.Format(p)
	return nil
}

func (e *StepFailure) Format(f fmt.State, c rune) { xerrors.FormatError(e, f, c) }

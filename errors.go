package kernel

import (
	"errors"
	"fmt"
)

// Sentinel errors for the error kinds named by the kernel's external
// interface. Callers match against these with errors.Is; call sites that
// need structured detail wrap one of these via KernelError.
var (
	ErrInvalidParameter      = errors.New("kernel: invalid parameter")
	ErrInvalidObjectType     = errors.New("kernel: invalid object type")
	ErrInvalidDeviceState    = errors.New("kernel: operation not legal in current state")
	ErrNotInitialized        = errors.New("kernel: not initialized")
	ErrAlreadyInitialized    = errors.New("kernel: already initialized")
	ErrInsufficientResources = errors.New("kernel: insufficient resources")
	ErrNoMoreEntries         = errors.New("kernel: no more entries")
	ErrNotFound              = errors.New("kernel: not found")
	ErrTimeout               = errors.New("kernel: timeout")
	ErrCancelled             = errors.New("kernel: cancelled")
	ErrAccessDenied          = errors.New("kernel: access denied")
)

// KernelError carries structured detail about a failed operation while
// still matching one of the sentinel errors above via errors.Is/errors.As:
// a Cause plus a Message, with Unwrap returning Cause so errors.Is walks
// through to the sentinel.
type KernelError struct {
	Cause   error
	Message string
}

func (e *KernelError) Error() string {
	if e.Message == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("%s: %s", e.Cause.Error(), e.Message)
}

func (e *KernelError) Unwrap() error {
	return e.Cause
}

// wrapError attaches caller-specific context to a sentinel error without
// losing errors.Is compatibility.
func wrapError(cause error, format string, args ...any) error {
	return &KernelError{Cause: cause, Message: fmt.Sprintf(format, args...)}
}

// InvariantViolation marks an internal bookkeeping inconsistency as fatal:
// the core enters a panic path rather than attempting to continue. Unlike
// caller-facing errors, this is never returned — it is raised via
// panicInvariant, which logs it first, or panicked directly by
// SpinLock.Unlock without logging, and allowed to crash the process. There is
// deliberately no recover() path for it anywhere in this package: a
// scheduler whose own bookkeeping has gone inconsistent cannot be trusted
// to keep running.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string {
	return "kernel: invariant violation: " + e.Reason
}

// panicInvariant logs the violation (if k has a logger configured) then
// panics. It never returns.
func panicInvariant(k *Kernel, reason string) {
	err := &InvariantViolation{Reason: reason}
	if k != nil {
		k.logFatal(err)
	}
	panic(err)
}

package kernel

import (
	"runtime"
	"sync/atomic"
)

// SpinLock is a pure CAS spinlock, cache-line padded to avoid false
// sharing between cores under contention.
//
// Acquired "at elevated interrupt priority (save-and-raise)" in the
// microkernel model this implements; a real IRQL doesn't exist in a
// userspace Go process, so IRQLSaveRaise/IRQLRestore are a documented
// no-op pair. Lock and Unlock do not call them; they are a separate seam
// for callers that want to spell out a save-and-raise discipline.
type SpinLock struct {
	_     [64]byte
	state atomic.Uint32
	_     [60]byte
}

const (
	spinFree uint32 = 0
	spinHeld uint32 = 1
)

// Lock spins until the lock is acquired. Never suspends the goroutine: a
// thread that holds a spinlock must never block on something that could
// suspend it, so runtime.Gosched yields the processor between attempts
// instead of parking.
func (s *SpinLock) Lock() {
	for !s.state.CompareAndSwap(spinFree, spinHeld) {
		runtime.Gosched()
	}
}

// TryLock attempts to acquire the lock without spinning. Returns false if
// already held.
func (s *SpinLock) TryLock() bool {
	return s.state.CompareAndSwap(spinFree, spinHeld)
}

// Unlock releases the lock. Unlock of an unheld lock is a programmer
// error and is treated as an invariant violation rather than silently
// ignored, since a stray Unlock would let a second goroutine believe it
// holds exclusive access it does not.
func (s *SpinLock) Unlock() {
	if !s.state.CompareAndSwap(spinHeld, spinFree) {
		panic(&InvariantViolation{Reason: "unlock of spinlock not held"})
	}
}

// IRQL models the saved interrupt-priority level returned by
// IRQLSaveRaise, threaded back through IRQLRestore. It carries no real
// meaning on this platform; its presence documents the save/restore
// discipline at call sites.
type IRQL uint8

// IRQLSaveRaise "raises" to the elevated level used while a spinlock is
// held and returns the level to restore on release. See SpinLock's doc
// comment for why this is a documented no-op rather than a real priority
// mask.
func IRQLSaveRaise() IRQL { return 0 }

// IRQLRestore is the paired restore for IRQLSaveRaise.
func IRQLRestore(IRQL) {}

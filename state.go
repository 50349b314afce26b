package kernel

import "sync/atomic"

// integerState is the constraint for values usable with AtomicState: any
// state enum backed by uint32.
type integerState interface{ ~uint32 }

// AtomicState is a lock-free, cache-line-padded CAS state machine, generic
// over any uint32-backed enum. The same technique (atomic CAS transitions,
// cache-line padding to avoid false sharing) serves both ThreadState and
// KernelState, so it is factored out once via generics rather than
// copy-pasted per enum. ProcessState is a plain field guarded by the
// process lock instead.
type AtomicState[S integerState] struct {
	_ [64]byte
	v atomic.Uint32
	_ [60]byte
}

// NewAtomicState constructs a state machine initialized to initial.
func NewAtomicState[S integerState](initial S) *AtomicState[S] {
	s := &AtomicState[S]{}
	s.v.Store(uint32(initial))
	return s
}

// Load returns the current state.
func (s *AtomicState[S]) Load() S { return S(s.v.Load()) }

// Store unconditionally overwrites the state. Reserved for irreversible
// transitions where no other goroutine could be racing the write; using it
// for a state reachable from more than one direction races TryTransition
// callers and should be a CAS instead.
func (s *AtomicState[S]) Store(state S) { s.v.Store(uint32(state)) }

// TryTransition attempts to atomically move from `from` to `to`. Returns
// true on success.
func (s *AtomicState[S]) TryTransition(from, to S) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}

// TransitionAny attempts to move from any of validFrom to to, trying each
// in turn. Returns true on the first successful CAS.
func (s *AtomicState[S]) TransitionAny(validFrom []S, to S) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
	}
	return false
}

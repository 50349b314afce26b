package kernel

import "sync/atomic"

// ObjectType is the discriminant for the common object header: destruction
// dispatches by this tag the way a sum type's variant would.
type ObjectType int

const (
	ObjectThread ObjectType = iota
	ObjectProcess
	ObjectTimer
	ObjectEvent
	ObjectMutex
	ObjectSemaphore
	ObjectWaitBlock
)

func (t ObjectType) String() string {
	switch t {
	case ObjectThread:
		return "Thread"
	case ObjectProcess:
		return "Process"
	case ObjectTimer:
		return "Timer"
	case ObjectEvent:
		return "Event"
	case ObjectMutex:
		return "Mutex"
	case ObjectSemaphore:
		return "Semaphore"
	case ObjectWaitBlock:
		return "WaitBlock"
	default:
		return "Unknown"
	}
}

// Header is the common prefix embedded in every kernel object: thread,
// process, timer, event, mutex, semaphore. Destruction is dispatched by
// Type, mirroring a sum type's discriminant.
//
// refcount starts at 1 on creation (the creator's implicit reference) and
// is driven to 0 by matched Reference/Dereference calls; the caller that
// drives it to 0 is responsible for invoking destroy exactly once.
type Header struct {
	Type     ObjectType
	flags    atomic.Uint32
	refcount atomic.Uint32
	dead     atomic.Bool
	destroy  func()
}

// InitHeader initializes h in place with refcount 1 and the given type
// tag and destructor. destroy must be idempotent-safe to call exactly
// once; Dereference guarantees it is invoked at most once.
func InitHeader(h *Header, typ ObjectType, destroy func()) {
	h.Type = typ
	h.destroy = destroy
	h.refcount.Store(1)
}

// Reference atomically increments the refcount. Overflow is undefined;
// practically bounded by total live references to the object.
func (h *Header) Reference() {
	h.refcount.Add(1)
}

// Dereference atomically decrements the refcount. The goroutine that
// drives it from 1 to 0 invokes the destructor synchronously before
// returning. Safe to call concurrently from any context. A count that is
// raised again after reaching zero and then dropped back to zero does not
// run the destructor a second time.
func (h *Header) Dereference() {
	if h.refcount.Add(^uint32(0)) == 0 && h.dead.CompareAndSwap(false, true) {
		if h.destroy != nil {
			h.destroy()
		}
	}
}

// RefCount returns a snapshot of the current reference count, for tests
// and diagnostics only; it is never used to gate control flow.
func (h *Header) RefCount() uint32 {
	return h.refcount.Load()
}

// Flags returns the object's flags word.
func (h *Header) Flags() uint32 { return h.flags.Load() }

// SetFlags atomically ORs bits into the flags word.
func (h *Header) SetFlags(bits uint32) {
	h.flags.Or(bits)
}

// ClearFlags atomically clears bits from the flags word.
func (h *Header) ClearFlags(bits uint32) {
	h.flags.And(^bits)
}

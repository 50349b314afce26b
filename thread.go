package kernel

import (
	"sync"
	"weak"
)

// ThreadState is the TCB lifecycle state (spec §3: `state ∈ {Created,
// Ready, Running, Waiting, Suspended, Terminated}`).
type ThreadState uint32

const (
	ThreadCreated ThreadState = iota
	ThreadReady
	ThreadRunning
	ThreadWaiting
	ThreadSuspended
	ThreadTerminated
)

func (s ThreadState) String() string {
	switch s {
	case ThreadCreated:
		return "Created"
	case ThreadReady:
		return "Ready"
	case ThreadRunning:
		return "Running"
	case ThreadWaiting:
		return "Waiting"
	case ThreadSuspended:
		return "Suspended"
	case ThreadTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

const kernelStackSize = 16 * 1024  // 16 KiB, spec §4.2
const userStackSize = 1024 * 1024 // 1 MiB, spec §4.2

// Allocator is the memory-manager collaborator named by spec §1 ("the core
// consumes an allocator interface (alloc_kernel_stack, free_kernel_stack,
// alloc_user_stack)"). Physical/virtual memory management is out of this
// core's scope; this interface is the seam an external memory manager
// plugs into.
type Allocator interface {
	AllocKernelStack(size int) ([]byte, error)
	FreeKernelStack(buf []byte)
	AllocUserStack(size int) ([]byte, error)
	FreeUserStack(buf []byte)
}

// defaultAllocator is a plain Go-heap-backed Allocator, adequate for
// testing the scheduler core without a real memory manager wired in.
type defaultAllocator struct{}

func (defaultAllocator) AllocKernelStack(size int) ([]byte, error) { return make([]byte, size), nil }
func (defaultAllocator) FreeKernelStack([]byte)                    {}
func (defaultAllocator) AllocUserStack(size int) ([]byte, error)   { return make([]byte, size), nil }
func (defaultAllocator) FreeUserStack([]byte)                      {}

// Arch is the architectural-context collaborator named by spec §4.3/§4.13
// (`arch_init_context`, `arch_switch_context`, `yield_processor`). Real
// register-set save/restore is hardware-specific and out of this core's
// scope; this interface is the seam a real architecture backend plugs
// into.
type Arch interface {
	// InitContext prepares an opaque architectural context for a new
	// thread: stack pointer derived from kernelStack, instruction pointer
	// startAddress, first argument parameter, and whether it runs in user
	// or kernel mode.
	InitContext(kernelStack []byte, startAddress, parameter uintptr, userMode bool) any
	// SwitchContext performs a context switch from one opaque context to
	// another.
	SwitchContext(from, to any)
}

// defaultArch is a no-op Arch sufficient for exercising scheduling
// decisions without real register contexts.
type defaultArch struct{}

func (defaultArch) InitContext(_ []byte, startAddress, parameter uintptr, userMode bool) any {
	return struct {
		IP, Arg uintptr
		User    bool
	}{startAddress, parameter, userMode}
}
func (defaultArch) SwitchContext(any, any) {}

// TCB is the thread control block (spec §3 "Thread control block (TCB)").
type TCB struct {
	Header

	ID uint64

	// process is a weak back-reference: the process owns its threads
	// strongly via Process.threadList, so the reverse edge must not keep
	// the process alive on its own (DESIGN NOTES: "Process↔Thread is a
	// back-edge... thread's pointer to process is a weak back-reference
	// to be nulled at termination"). Grounded directly on
	// eventloop/registry.go's use of weak.Pointer[promise] for exactly
	// this kind of non-owning reference.
	process weak.Pointer[Process]

	state *AtomicState[ThreadState]

	WaitReason string
	waitObject *Waitable // non-nil only while state == ThreadWaiting

	priority     int32
	basePriority int32
	cpuAffinity  uint64

	quantum   int64
	readyTime uint64

	kernelStack []byte
	userStack   []byte
	archContext any

	globalLink  Links[TCB]
	queueLink   Links[TCB]
	processLink Links[TCB]

	ownedMu      sync.Mutex
	ownedObjects []*Waitable

	// wakeCh delivers the outcome of a blocking WaitForSingleObject call.
	// Buffered 1: whichever of signal/timeout wins the race to transition
	// the thread out of ThreadWaiting sends exactly once.
	wakeCh chan WaitResult

	tls *tlsTable

	contextSwitchCount uint64
	cpuTime            uint64
	ioCount            uint64

	inSchedulerQueue bool
	createTime       uint64
}

// Process returns the owning process, or nil if it has already been
// reclaimed (weak references do not keep it alive).
func (t *TCB) Process() *Process { return t.process.Value() }

// State returns the thread's current lifecycle state.
func (t *TCB) State() ThreadState { return t.state.Load() }

// Priority returns the thread's current (possibly aged/adjusted) priority.
func (t *TCB) Priority() int32 { return t.priority }

// BasePriority returns the thread's priority at creation time.
func (t *TCB) BasePriority() int32 { return t.basePriority }

// GroupID returns the fair-share group id this thread belongs to, taken
// from its owning process (spec §4.10 groups threads by the process-level
// GroupID field). Returns 0 (the default, ungrouped) if the process has
// already been reclaimed.
func (t *TCB) GroupID() uint64 {
	if p := t.Process(); p != nil {
		return p.GroupID
	}
	return 0
}

// InSchedulerQueue reports whether the thread is currently linked into a
// ready queue (spec §3 invariant: `state == Ready ⇔ in_scheduler_queue ==
// true`). A thread parked in a wait queue reports false, even though
// queueLink is shared between ready and wait membership since a thread
// occupies at most one at a time.
func (t *TCB) InSchedulerQueue() bool { return t.inSchedulerQueue }

// ContextSwitchCount, CPUTime, IOCount report the TCB's accounting
// counters (spec §3: "Counters: context_switch_count, cpu_time,
// io_count").
func (t *TCB) ContextSwitchCount() uint64 { return t.contextSwitchCount }
func (t *TCB) CPUTime() uint64            { return t.cpuTime }
func (t *TCB) IOCount() uint64            { return t.ioCount }

// CreateThread implements spec §4.3 `create_thread`.
func (k *Kernel) CreateThread(process *Process, startAddress, parameter uintptr, createSuspended bool) (*TCB, error) {
	if process == nil {
		return nil, wrapError(ErrInvalidParameter, "process is nil")
	}
	if startAddress == 0 {
		return nil, wrapError(ErrInvalidParameter, "start address is null")
	}

	t := &TCB{
		ID:           k.nextThreadID.Add(1),
		process:      weak.Make(process),
		basePriority: process.BasePriority,
		priority:     process.BasePriority,
		tls:          newTLSTable(),
		createTime:   k.Ticks(),
		wakeCh:       make(chan WaitResult, 1),
		quantum:      defaultQuantum,
	}
	InitHeader(&t.Header, ObjectThread, func() { k.destroyThread(t) })

	if createSuspended {
		t.state = NewAtomicState(ThreadSuspended)
	} else {
		t.state = NewAtomicState(ThreadCreated)
	}

	kernelStack, err := k.allocator.AllocKernelStack(kernelStackSize)
	if err != nil {
		return nil, wrapError(ErrInsufficientResources, "kernel stack: %v", err)
	}
	t.kernelStack = kernelStack

	if process.AddressSpace != nil {
		userStack, err := k.allocator.AllocUserStack(userStackSize)
		if err != nil {
			k.allocator.FreeKernelStack(kernelStack)
			return nil, wrapError(ErrInsufficientResources, "user stack: %v", err)
		}
		t.userStack = userStack
	}

	t.archContext = k.arch.InitContext(t.kernelStack, startAddress, parameter, process.AddressSpace != nil)

	process.addThread(t)

	k.globalThreadLock.Lock()
	k.globalThreadList.PushBack(t)
	k.stats.threadsCreated.Add(1)
	k.stats.threadsActive.Add(1)
	k.globalThreadLock.Unlock()

	k.logEvent(levelInfo, categoryThread, "thread created", map[string]any{
		"thread_id":  t.ID,
		"process_id": process.ID,
		"suspended":  createSuspended,
	})

	if !createSuspended {
		k.scheduler.Enqueue(t)
	}

	return t, nil
}

// TerminateThread implements spec §4.4 `terminate_thread`.
func (k *Kernel) TerminateThread(t *TCB) error {
	if t == nil {
		return wrapError(ErrInvalidParameter, "thread is nil")
	}

	k.releaseOwnedObjects(t)

	k.scheduler.removeFromSchedulerIfPresent(t)

	t.state.Store(ThreadTerminated)

	if p := t.Process(); p != nil {
		p.removeThread(t)
	}

	k.globalThreadLock.Lock()
	k.globalThreadList.Remove(t)
	k.stats.threadsActive.Add(^uint64(0))
	k.stats.threadsTerminated.Add(1)
	k.globalThreadLock.Unlock()

	k.allocator.FreeKernelStack(t.kernelStack)
	t.kernelStack = nil
	if t.userStack != nil {
		k.allocator.FreeUserStack(t.userStack)
		t.userStack = nil
	}
	t.tls = nil

	k.logEvent(levelInfo, categoryThread, "thread terminated", map[string]any{
		"thread_id": t.ID,
	})

	t.Dereference()
	return nil
}

// destroyThread is the type-specific destructor invoked by Header.Dereference
// once a TCB's refcount reaches zero (spec §4.1).
func (k *Kernel) destroyThread(t *TCB) {
	k.logEvent(levelDebug, categoryThread, "thread destroyed", map[string]any{
		"thread_id": t.ID,
	})
}

// TLSAllocate implements spec §6 `tls_allocate(tcb) -> index`.
func (k *Kernel) TLSAllocate(t *TCB) (int, error) {
	if t == nil || t.tls == nil {
		return 0, wrapError(ErrInvalidParameter, "thread has no tls table")
	}
	return t.tls.alloc()
}

// TLSGet implements spec §6 `tls_get(tcb, index) -> value`.
func (k *Kernel) TLSGet(t *TCB, index int) (uintptr, error) {
	if t == nil || t.tls == nil {
		return 0, wrapError(ErrInvalidParameter, "thread has no tls table")
	}
	return t.tls.get(index)
}

// TLSSet implements spec §6 `tls_set(tcb, index, val)`.
func (k *Kernel) TLSSet(t *TCB, index int, val uintptr) error {
	if t == nil || t.tls == nil {
		return wrapError(ErrInvalidParameter, "thread has no tls table")
	}
	return t.tls.set(index, val)
}

// TLSFree implements spec §6 `tls_free(tcb, index)`.
func (k *Kernel) TLSFree(t *TCB, index int) error {
	if t == nil || t.tls == nil {
		return wrapError(ErrInvalidParameter, "thread has no tls table")
	}
	return t.tls.free(index)
}

// SetThreadState implements spec §6 `set_thread_state(tcb, new_state)`.
// Only the Suspended -> Ready, Created -> Ready and Ready -> Suspended
// edges are legal via this entry point; all other transitions are driven
// internally by the scheduler and wait/signal protocol.
func (k *Kernel) SetThreadState(t *TCB, newState ThreadState) error {
	if t == nil {
		return wrapError(ErrInvalidParameter, "thread is nil")
	}
	switch newState {
	case ThreadReady:
		if !t.state.TryTransition(ThreadSuspended, ThreadReady) && !t.state.TryTransition(ThreadCreated, ThreadReady) {
			return wrapError(ErrInvalidDeviceState, "cannot ready thread %d from state %s", t.ID, t.State())
		}
		k.scheduler.Enqueue(t)
		return nil
	case ThreadSuspended:
		if !t.state.TryTransition(ThreadReady, ThreadSuspended) {
			return wrapError(ErrInvalidDeviceState, "cannot suspend thread %d from state %s", t.ID, t.State())
		}
		k.scheduler.removeFromSchedulerIfPresent(t)
		return nil
	default:
		return wrapError(ErrInvalidDeviceState, "unsupported explicit transition to %s", newState)
	}
}

package kernel

// ProcessState is the PCB lifecycle state: Created, Running, Terminated.
type ProcessState uint32

const (
	ProcessCreated ProcessState = iota
	ProcessRunning
	ProcessTerminated
)

func (s ProcessState) String() string {
	switch s {
	case ProcessCreated:
		return "Created"
	case ProcessRunning:
		return "Running"
	case ProcessTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ResourceLimits is an opaque-to-the-core budget (cpu time, memory,
// handles). The scheduler never reads these fields itself; they exist so
// external collaborators (quota enforcement, accounting) have somewhere
// to store them against a PCB.
type ResourceLimits struct {
	CPUTimeTicks uint64
	MemoryBytes  uint64
	MaxHandles   uint64
}

// Process is the process control block. It owns its threads strongly via
// threadList; a TCB's back reference to its Process is a weak.Pointer (see
// thread.go) so the pair never forms a reference cycle that would keep a
// terminated process's threads pinned in memory.
type Process struct {
	Header

	ID               uint64
	ParentProcessID  uint64
	SessionID        uint64
	PrivilegeLevel   int
	SecurityToken    any // opaque to the core
	AddressSpace     any // opaque; nil means kernel-only (no user stacks)
	BasePriority     int32
	GroupID          uint64
	Limits           ResourceLimits
	ExitStatus       int

	state ProcessState

	// lock protects threadList and threadCount. It is the second-from-
	// outermost lock in the hierarchy, after the global thread-registry
	// lock.
	lock        SpinLock
	threadList  *List[TCB]
	threadCount int
}

// NewProcess constructs a PCB in the Created state, with refcount 1. It is
// not registered with any kernel-wide registry; the thread manager only
// ever needs the processes referenced by the threads it creates on their
// behalf.
func NewProcess(id uint64, opts ...func(*Process)) *Process {
	p := &Process{
		ID:           id,
		BasePriority: NormalPriority,
		state:        ProcessCreated,
	}
	p.threadList = NewList(func(t *TCB) *Links[TCB] { return &t.processLink })
	InitHeader(&p.Header, ObjectProcess, func() {})
	for _, o := range opts {
		o(p)
	}
	return p
}

// State returns the process's current lifecycle state. Reads take the
// process lock, since threadCount and state are always updated together
// under it.
func (p *Process) State() ProcessState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state
}

// ThreadCount returns the current thread count, matching the length of
// threadList by construction.
func (p *Process) ThreadCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.threadCount
}

// addThread appends t to the process's thread list and increments
// thread_count, under the process lock. Called by CreateThread.
func (p *Process) addThread(t *TCB) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.threadList.PushBack(t)
	p.threadCount++
	if p.state == ProcessCreated {
		p.state = ProcessRunning
	}
}

// removeThread unlinks t from the process's thread list and decrements the
// thread count, under the process lock; if the count reaches zero and the
// process isn't already Terminated, it transitions to Terminated
// automatically. Terminated processes are not revived. Called by
// TerminateThread.
func (p *Process) removeThread(t *TCB) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.threadList.Remove(t)
	p.threadCount--
	if p.threadCount == 0 && p.state != ProcessTerminated {
		p.state = ProcessTerminated
	}
}

package kernel

// waitableKind discriminates the three synchronization object flavours
// sharing the Waitable type (spec §3 "Waitable object": Event, Mutex,
// Semaphore are the three concrete shapes this header generalizes).
type waitableKind int

const (
	waitableEvent waitableKind = iota
	waitableMutex
	waitableSemaphore
)

// WaitResult is the outcome of a blocking WaitForSingleObject call (spec §6:
// `wait_for_single_object(obj, timeout)` -> "Signaled / Timeout").
type WaitResult int

const (
	WaitSignaled WaitResult = iota
	WaitTimeout
)

func (r WaitResult) String() string {
	switch r {
	case WaitSignaled:
		return "Signaled"
	case WaitTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Waitable is the common shape behind Event, Mutex, and Semaphore objects
// (spec §3). All three share a wait queue and a per-object lock, the
// innermost lock in the hierarchy described by spec §5; only the fields
// relevant to a given kind are meaningful (owner/recursionCount for Mutex,
// count for Semaphore, signaled for Event).
type Waitable struct {
	Header

	kind waitableKind
	lock SpinLock

	waitQueue *List[TCB]

	// Event
	signaled bool

	// Mutex
	owner          *TCB
	recursionCount int

	// Semaphore
	count int
}

func newWaitable(kind waitableKind, typ ObjectType) *Waitable {
	w := &Waitable{kind: kind}
	w.waitQueue = NewList(func(t *TCB) *Links[TCB] { return &t.queueLink })
	InitHeader(&w.Header, typ, func() {})
	return w
}

// NewEvent creates a manual-reset event: Signal wakes every current waiter
// and latches signaled so that later waiters observe it immediately (spec
// §4.5: "callers needing auto-reset use a semaphore with capacity 1" implies
// the event itself is not auto-resetting).
func NewEvent() *Waitable {
	return newWaitable(waitableEvent, ObjectEvent)
}

// NewMutex creates an unowned, recursive mutex: repeated acquisition by the
// current owner succeeds and is tracked via recursionCount, spec §3
// "Mutex: owner TCB, recursion count".
func NewMutex() *Waitable {
	return newWaitable(waitableMutex, ObjectMutex)
}

// NewSemaphore creates a counting semaphore with the given initial permit
// count.
func NewSemaphore(initial int) (*Waitable, error) {
	if initial < 0 {
		return nil, wrapError(ErrInvalidParameter, "semaphore initial count must be >= 0, got %d", initial)
	}
	w := newWaitable(waitableSemaphore, ObjectSemaphore)
	w.count = initial
	return w, nil
}

func nonBlockingSend(ch chan WaitResult, result WaitResult) {
	select {
	case ch <- result:
	default:
	}
}

func trackOwned(t *TCB, obj *Waitable) {
	t.ownedMu.Lock()
	t.ownedObjects = append(t.ownedObjects, obj)
	t.ownedMu.Unlock()
}

func untrackOwned(t *TCB, obj *Waitable) {
	t.ownedMu.Lock()
	for i, o := range t.ownedObjects {
		if o == obj {
			t.ownedObjects = append(t.ownedObjects[:i], t.ownedObjects[i+1:]...)
			break
		}
	}
	t.ownedMu.Unlock()
}

// WaitForSingleObject implements spec §6 `wait_for_single_object(obj,
// timeout)`. timeoutTicks == 0 means wait indefinitely. The calling
// goroutine blocks until the wait is satisfied or times out: this kernel
// models one goroutine per TCB driving its own execution, so a genuine
// blocking call here is the idiomatic analogue of a real thread parking in
// the scheduler.
func (k *Kernel) WaitForSingleObject(t *TCB, obj *Waitable, timeoutTicks uint64) (WaitResult, error) {
	if t == nil || obj == nil {
		return 0, wrapError(ErrInvalidParameter, "thread or object is nil")
	}
	switch obj.kind {
	case waitableEvent:
		return k.waitEvent(t, obj, timeoutTicks)
	case waitableMutex:
		return k.acquireMutex(t, obj, timeoutTicks)
	case waitableSemaphore:
		return k.acquireSemaphore(t, obj, timeoutTicks)
	default:
		return 0, ErrInvalidObjectType
	}
}

// SignalObject implements spec §6 `signal_object(obj)`. releaser is the
// thread performing the signal; it matters only for Mutex, where release is
// restricted to the current owner.
func (k *Kernel) SignalObject(releaser *TCB, obj *Waitable) error {
	if obj == nil {
		return wrapError(ErrInvalidParameter, "object is nil")
	}
	switch obj.kind {
	case waitableEvent:
		return k.signalEvent(obj)
	case waitableMutex:
		return k.releaseMutex(releaser, obj)
	case waitableSemaphore:
		return k.releaseSemaphore(obj, 1)
	default:
		return ErrInvalidObjectType
	}
}

// waitCommon is the shared blocking path for a thread that must actually
// queue and park: append to obj's wait queue, arm an optional timeout, and
// block on the thread's wake channel. Grounded on spec §5's "wait(obj,
// timeout) with a finite timeout inserts the thread into both obj.wait_queue
// and a timer queue; whichever fires first removes the thread from the
// other, under the scheduler lock" — expressed here via a CAS on thread
// state (see wakeTimeout) rather than a second lock acquisition race.
func (k *Kernel) waitCommon(t *TCB, obj *Waitable, timeoutTicks uint64) (WaitResult, error) {
	trackOwned(t, obj)
	t.waitObject = obj
	t.state.Store(ThreadWaiting)

	k.scheduler.removeFromSchedulerIfPresent(t)

	obj.lock.Lock()
	obj.waitQueue.PushBack(t)
	obj.lock.Unlock()

	var timer *Timer
	if timeoutTicks > 0 {
		timer = k.scheduleWaitTimeout(t, obj, timeoutTicks)
	}

	start := k.Ticks()
	result := <-t.wakeCh

	if timer != nil {
		_, _ = k.CancelTimer(timer)
	}
	if k.cfg.metricsEnabled {
		k.stats.waitTimes.record(float64(k.Ticks() - start))
	}
	return result, nil
}

// wakeTimeout is the DPC routine armed by waitCommon when a finite timeout
// is given. It only acts if it wins the race against a concurrent signal.
func (k *Kernel) wakeTimeout(t *TCB, obj *Waitable) {
	if !t.state.TryTransition(ThreadWaiting, ThreadReady) {
		return
	}
	obj.lock.Lock()
	if obj.waitQueue.Contains(t) {
		obj.waitQueue.Remove(t)
	}
	obj.lock.Unlock()
	t.waitObject = nil
	untrackOwned(t, obj)
	k.scheduler.Enqueue(t)
	nonBlockingSend(t.wakeCh, WaitTimeout)
}

func (k *Kernel) waitEvent(t *TCB, obj *Waitable, timeoutTicks uint64) (WaitResult, error) {
	obj.lock.Lock()
	if obj.signaled {
		obj.lock.Unlock()
		return WaitSignaled, nil
	}
	obj.lock.Unlock()
	return k.waitCommon(t, obj, timeoutTicks)
}

// signalEvent implements spec §4.5's event semantics: set signaled and
// broadcast-wake every current waiter, rather than waking just one (a
// caller needing single-wake/auto-reset semantics uses a semaphore with
// capacity 1 instead, per spec §4.5).
func (k *Kernel) signalEvent(obj *Waitable) error {
	var woken []*TCB
	obj.lock.Lock()
	obj.signaled = true
	for {
		cand := obj.waitQueue.PopFront()
		if cand == nil {
			break
		}
		woken = append(woken, cand)
	}
	obj.lock.Unlock()

	for _, t := range woken {
		if !t.state.TryTransition(ThreadWaiting, ThreadReady) {
			continue // lost the race to a concurrent timeout
		}
		t.waitObject = nil
		untrackOwned(t, obj)
		k.scheduler.Enqueue(t)
		nonBlockingSend(t.wakeCh, WaitSignaled)
	}
	return nil
}

func (k *Kernel) acquireMutex(t *TCB, obj *Waitable, timeoutTicks uint64) (WaitResult, error) {
	obj.lock.Lock()
	if obj.owner == nil {
		obj.owner = t
		obj.recursionCount = 1
		obj.lock.Unlock()
		trackOwned(t, obj)
		return WaitSignaled, nil
	}
	if obj.owner == t {
		obj.recursionCount++
		obj.lock.Unlock()
		return WaitSignaled, nil
	}
	obj.lock.Unlock()
	return k.waitCommon(t, obj, timeoutTicks)
}

// releaseMutex implements the normal (live-owner) release path of spec
// §4.5. Release by a non-owner is rejected with AccessDenied.
func (k *Kernel) releaseMutex(releaser *TCB, obj *Waitable) error {
	obj.lock.Lock()
	if obj.owner != releaser {
		obj.lock.Unlock()
		return wrapError(ErrAccessDenied, "thread does not own mutex")
	}
	if obj.recursionCount > 1 {
		obj.recursionCount--
		obj.lock.Unlock()
		return nil
	}
	k.handoffMutex(obj)
	untrackOwned(releaser, obj)
	return nil
}

// mutexOwnerDied implements spec §4.4/§8's owner-death handoff: a mutex held
// by a terminating thread is released and ownership transferred to the next
// waiter, exactly as if the owner had called SignalObject, rather than left
// permanently held by a dead thread.
func (k *Kernel) mutexOwnerDied(obj *Waitable, dead *TCB) {
	obj.lock.Lock()
	if obj.owner != dead {
		obj.lock.Unlock()
		return
	}
	k.handoffMutex(obj)
}

// handoffMutex assumes obj.lock is held and obj.owner is the
// releasing/dead thread; it transfers ownership to the next eligible waiter
// (skipping any that already lost their wait via a racing timeout) or
// clears ownership if the wait queue is empty. obj.lock is released before
// returning.
func (k *Kernel) handoffMutex(obj *Waitable) {
	var next *TCB
	for {
		cand := obj.waitQueue.PopFront()
		if cand == nil {
			break
		}
		if cand.state.TryTransition(ThreadWaiting, ThreadReady) {
			next = cand
			break
		}
	}
	if next == nil {
		obj.owner = nil
		obj.recursionCount = 0
		obj.lock.Unlock()
		return
	}
	obj.owner = next
	obj.recursionCount = 1
	obj.lock.Unlock()

	next.waitObject = nil
	trackOwned(next, obj)
	k.scheduler.Enqueue(next)
	nonBlockingSend(next.wakeCh, WaitSignaled)
}

func (k *Kernel) acquireSemaphore(t *TCB, obj *Waitable, timeoutTicks uint64) (WaitResult, error) {
	obj.lock.Lock()
	if obj.count > 0 {
		obj.count--
		obj.lock.Unlock()
		return WaitSignaled, nil
	}
	obj.lock.Unlock()
	return k.waitCommon(t, obj, timeoutTicks)
}

// releaseSemaphore increments the permit count by releaseCount and wakes up
// to that many waiters in FIFO order (spec §4.5: semaphore death cleanup is
// a no-op since "count is unaffected" by a holder's death — permits are not
// individually owned).
func (k *Kernel) releaseSemaphore(obj *Waitable, releaseCount int) error {
	var woken []*TCB
	obj.lock.Lock()
	obj.count += releaseCount
	for obj.count > 0 {
		cand := obj.waitQueue.PopFront()
		if cand == nil {
			break
		}
		if cand.state.TryTransition(ThreadWaiting, ThreadReady) {
			obj.count--
			woken = append(woken, cand)
		}
	}
	obj.lock.Unlock()

	for _, t := range woken {
		t.waitObject = nil
		untrackOwned(t, obj)
		k.scheduler.Enqueue(t)
		nonBlockingSend(t.wakeCh, WaitSignaled)
	}
	return nil
}

// releaseOwnedObjects implements spec §4.4's owned-object cleanup on thread
// death: unlink the thread from every wait queue it still sits in; for any
// Mutex it actually owned, hand ownership off to the next waiter; for an
// Event, signal it so other threads waiting on it don't deadlock (spec
// §4.5: "for an Event, signal it"). A Semaphore needs no kind-specific
// cleanup beyond the unlink — its count is not individually owned.
func (k *Kernel) releaseOwnedObjects(t *TCB) {
	t.ownedMu.Lock()
	objs := t.ownedObjects
	t.ownedObjects = nil
	t.ownedMu.Unlock()

	for _, obj := range objs {
		obj.lock.Lock()
		if obj.waitQueue.Contains(t) {
			obj.waitQueue.Remove(t)
		}
		obj.lock.Unlock()

		switch obj.kind {
		case waitableMutex:
			k.mutexOwnerDied(obj, t)
		case waitableEvent:
			k.signalEvent(obj)
		}
	}
}

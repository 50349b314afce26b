package kernel

import "container/heap"

// Timer is spec §3's "Timer object": an absolute expiry tick, an optional
// repeat period (0 means one-shot), and the DPC to queue on expiry. The
// underlying min-heap ordering is grounded on eventloop/loop.go's
// timerHeap, which uses container/heap over a slice of pending timers in
// exactly this shape for its own deadline queue.
type Timer struct {
	Header

	id        uint64
	expiry    uint64
	period    uint64
	dpc       func()
	cancelled bool
	index     int // heap.Interface bookkeeping
}

// timerHeap implements container/heap.Interface, ordering by expiry tick.
type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].expiry < h[j].expiry }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// InitTimer implements spec §6 `init_timer() -> timer`. dpcRoutine runs
// (queued as a DPC, never inline) each time the timer expires.
func (k *Kernel) InitTimer(dpcRoutine func()) *Timer {
	t := &Timer{id: k.nextTimerID.Add(1), dpc: dpcRoutine, index: -1}
	InitHeader(&t.Header, ObjectTimer, func() {})
	return t
}

// SetTimer implements spec §6 `set_timer(timer, due_time, period)`. Both
// signs of due are relative to the current tick count: a non-negative due
// expires at `now + due`, and a negative due expires at `now - due`, i.e.
// |due| ticks from now. period == 0 means one-shot.
func (k *Kernel) SetTimer(timer *Timer, due int64, period uint64) error {
	if timer == nil {
		return wrapError(ErrInvalidParameter, "timer is nil")
	}
	k.timerLock.Lock()
	defer k.timerLock.Unlock()
	now := k.Ticks()
	if due >= 0 {
		timer.expiry = now + uint64(due)
	} else {
		timer.expiry = uint64(int64(now) - due)
	}
	timer.period = period
	timer.cancelled = false
	if timer.index < 0 {
		heap.Push(&k.timerQueue, timer)
	} else {
		heap.Fix(&k.timerQueue, timer.index)
	}
	return nil
}

// CancelTimer implements spec §6 `cancel_timer(timer) -> bool`. Cancellation
// is lazy: the timer is marked cancelled and skipped when popped, rather
// than searched for and removed from the heap immediately. The returned
// bool reports whether the timer was still pending (queued and not already
// cancelled) at the moment of the call, per spec §4.11's "return whether it
// was active"; a one-shot timer that has already fired reports false.
func (k *Kernel) CancelTimer(timer *Timer) (bool, error) {
	if timer == nil {
		return false, wrapError(ErrInvalidParameter, "timer is nil")
	}
	k.timerLock.Lock()
	defer k.timerLock.Unlock()
	wasActive := !timer.cancelled && timer.index >= 0
	timer.cancelled = true
	return wasActive, nil
}

// scheduleWaitTimeout arms a one-shot timer whose DPC wakes t from obj's
// wait queue with WaitTimeout, used by waitCommon.
func (k *Kernel) scheduleWaitTimeout(t *TCB, obj *Waitable, due uint64) *Timer {
	timer := k.InitTimer(func() { k.wakeTimeout(t, obj) })
	_ = k.SetTimer(timer, int64(due), 0)
	return timer
}

// processExpiredTimers implements spec §4.11: pop every timer whose expiry
// has passed, queue its DPC, and requeue periodic timers for their next
// period.
func (k *Kernel) processExpiredTimers(now uint64) {
	var expired []*Timer
	k.timerLock.Lock()
	for k.timerQueue.Len() > 0 && k.timerQueue[0].expiry <= now {
		t := heap.Pop(&k.timerQueue).(*Timer)
		if t.cancelled {
			continue
		}
		expired = append(expired, t)
		if t.period > 0 {
			t.expiry = now + t.period
			heap.Push(&k.timerQueue, t)
		}
	}
	k.timerLock.Unlock()

	for _, t := range expired {
		if t.dpc != nil {
			k.QueueDPC(NewDPC(t.dpc))
		}
	}
}

// DPC is spec §3's deferred procedure call: a routine queued for execution
// outside of timer-interrupt context, drained once interrupt nesting
// returns to zero (spec §4.11, §4.12).
type DPC struct {
	fn   func()
	link Links[DPC]
}

// NewDPC wraps fn as a queueable DPC.
func NewDPC(fn func()) *DPC {
	return &DPC{fn: fn}
}

// QueueDPC implements spec §6 `queue_dpc(dpc)`.
func (k *Kernel) QueueDPC(d *DPC) error {
	if d == nil {
		return wrapError(ErrInvalidParameter, "dpc is nil")
	}
	k.dpcLock.Lock()
	k.dpcQueue.PushBack(d)
	k.dpcLock.Unlock()
	return nil
}

// drainDPCs runs every queued DPC to completion, in FIFO order. Called from
// TimerInterrupt once nesting returns to zero (spec §4.11: "DPCs never run
// nested inside another interrupt").
func (k *Kernel) drainDPCs() {
	for {
		k.dpcLock.Lock()
		d := k.dpcQueue.PopFront()
		k.dpcLock.Unlock()
		if d == nil {
			return
		}
		d.fn()
	}
}

package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func spawnWaiter(k *Kernel, t *TCB, obj *Waitable, timeoutTicks uint64) <-chan WaitResult {
	out := make(chan WaitResult, 1)
	go func() {
		res, err := k.WaitForSingleObject(t, obj, timeoutTicks)
		if err != nil {
			panic(err)
		}
		out <- res
	}()
	return out
}

func requireSoon(t *testing.T, ch <-chan WaitResult, want WaitResult) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatal("wait did not complete in time")
	}
}

func makeWaitingThread(t *testing.T, k *Kernel) *TCB {
	t.Helper()
	p := keepAlive(NewProcess(1))
	th, err := k.CreateThread(p, 0x1000, 0, true)
	require.NoError(t, err)
	return th
}

func TestEventBroadcastWakesAllWaiters(t *testing.T) {
	k := newTestKernel(t)
	ev := NewEvent()

	a := makeWaitingThread(t, k)
	b := makeWaitingThread(t, k)

	chA := spawnWaiter(k, a, ev, 0)
	chB := spawnWaiter(k, b, ev, 0)

	// Give both waiters a chance to reach the wait queue before signaling.
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, k.SignalObject(nil, ev))

	requireSoon(t, chA, WaitSignaled)
	requireSoon(t, chB, WaitSignaled)

	require.True(t, a.InSchedulerQueue())
	require.True(t, b.InSchedulerQueue())
}

func TestEventLatchesSignaledForLateWaiters(t *testing.T) {
	k := newTestKernel(t)
	ev := NewEvent()
	require.NoError(t, k.SignalObject(nil, ev))

	a := makeWaitingThread(t, k)
	res, err := k.WaitForSingleObject(a, ev, 0)
	require.NoError(t, err)
	require.Equal(t, WaitSignaled, res)
}

func TestMutexRecursiveAcquireAndRelease(t *testing.T) {
	k := newTestKernel(t)
	mu := NewMutex()
	owner := makeWaitingThread(t, k)

	res, err := k.WaitForSingleObject(owner, mu, 0)
	require.NoError(t, err)
	require.Equal(t, WaitSignaled, res)

	res, err = k.WaitForSingleObject(owner, mu, 0)
	require.NoError(t, err)
	require.Equal(t, WaitSignaled, res)
	require.Equal(t, 2, mu.recursionCount)

	require.NoError(t, k.SignalObject(owner, mu))
	require.Equal(t, owner, mu.owner, "one release of two recursive acquires must not drop ownership")

	require.NoError(t, k.SignalObject(owner, mu))
	require.Nil(t, mu.owner)
}

func TestMutexReleaseByNonOwnerRejected(t *testing.T) {
	k := newTestKernel(t)
	mu := NewMutex()
	owner := makeWaitingThread(t, k)
	other := makeWaitingThread(t, k)

	_, err := k.WaitForSingleObject(owner, mu, 0)
	require.NoError(t, err)

	err = k.SignalObject(other, mu)
	require.Error(t, err)
}

func TestMutexOwnerDeathHandsOffToWaiter(t *testing.T) {
	k := newTestKernel(t)
	mu := NewMutex()
	owner := makeWaitingThread(t, k)
	waiter := makeWaitingThread(t, k)

	_, err := k.WaitForSingleObject(owner, mu, 0)
	require.NoError(t, err)

	waitCh := spawnWaiter(k, waiter, mu, 0)
	time.Sleep(10 * time.Millisecond)

	// Owner terminates while still holding the mutex; TerminateThread's
	// releaseOwnedObjects must hand ownership off rather than leave it
	// permanently held by a dead thread.
	require.NoError(t, k.TerminateThread(owner))

	requireSoon(t, waitCh, WaitSignaled)
	require.Equal(t, waiter, mu.owner)
}

func TestEventWaiterDeathSignalsOtherWaiters(t *testing.T) {
	k := newTestKernel(t)
	ev := NewEvent()

	dying := makeWaitingThread(t, k)
	other := makeWaitingThread(t, k)

	// dying blocks indefinitely (no timeout armed); it is never itself woken
	// by the termination below — TerminateThread's state transition to
	// ThreadTerminated does not deliver a wakeCh result. What's under test is
	// whether dying's death drags ev's *other* waiter down with it.
	_ = spawnWaiter(k, dying, ev, 0)
	otherCh := spawnWaiter(k, other, ev, 0)
	time.Sleep(10 * time.Millisecond)

	// dying is itself a waiter on ev (trackOwned runs for every wait, not
	// just mutex acquisition), so its death cleanup walks ev as one of its
	// owned objects. Per spec §4.5, an Event in a dying thread's owned-object
	// list must be signaled so other waiters don't deadlock.
	require.NoError(t, k.TerminateThread(dying))

	requireSoon(t, otherCh, WaitSignaled)
	require.True(t, ev.signaled)
}

func TestSemaphoreCountingAndFIFOWake(t *testing.T) {
	k := newTestKernel(t)
	sem, err := NewSemaphore(0)
	require.NoError(t, err)

	a := makeWaitingThread(t, k)
	b := makeWaitingThread(t, k)

	chA := spawnWaiter(k, a, sem, 0)
	chB := spawnWaiter(k, b, sem, 0)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, k.SignalObject(nil, sem))
	requireSoon(t, chA, WaitSignaled)

	select {
	case <-chB:
		t.Fatal("second waiter must not wake on a single permit release")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, k.SignalObject(nil, sem))
	requireSoon(t, chB, WaitSignaled)
}

func TestSemaphoreInvalidInitialCount(t *testing.T) {
	_, err := NewSemaphore(-1)
	require.Error(t, err)
}

func TestWaitTimeoutFiresViaTimerInterrupt(t *testing.T) {
	k := newTestKernel(t)
	sem, err := NewSemaphore(0)
	require.NoError(t, err)
	a := makeWaitingThread(t, k)

	ch := spawnWaiter(k, a, sem, 5)
	time.Sleep(10 * time.Millisecond)

	for i := 0; i < 10; i++ {
		k.TimerInterrupt()
	}

	requireSoon(t, ch, WaitTimeout)
	// a is back under scheduler control (either still queued, or already
	// dispatched by the same TimerInterrupt call that woke it).
	require.NotEqual(t, ThreadWaiting, a.State())
}

func TestWaitSignalBeforeTimeoutWinsRace(t *testing.T) {
	k := newTestKernel(t)
	ev := NewEvent()
	a := makeWaitingThread(t, k)

	ch := spawnWaiter(k, a, ev, 1000)
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, k.SignalObject(nil, ev))
	requireSoon(t, ch, WaitSignaled)
}

package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateThreadValidation(t *testing.T) {
	k := newTestKernel(t)
	p := NewProcess(1)

	_, err := k.CreateThread(nil, 0x1000, 0, true)
	require.Error(t, err)

	_, err = k.CreateThread(p, 0, 0, true)
	require.Error(t, err)
}

func TestCreateThreadSuspendedNotEnqueued(t *testing.T) {
	k := newTestKernel(t)
	p := NewProcess(1)

	th, err := k.CreateThread(p, 0x1000, 0, true)
	require.NoError(t, err)
	require.Equal(t, ThreadSuspended, th.State())
	require.False(t, th.InSchedulerQueue())
	require.Equal(t, p, th.Process())
	require.Equal(t, p.BasePriority, th.Priority())
	require.Equal(t, p.BasePriority, th.BasePriority())
}

func TestCreateThreadReadyIsEnqueued(t *testing.T) {
	k := newTestKernel(t)
	p := NewProcess(1)

	th, err := k.CreateThread(p, 0x1000, 0, false)
	require.NoError(t, err)
	require.Equal(t, ThreadReady, th.State())
	require.True(t, th.InSchedulerQueue())
}

func TestSetThreadStateSuspendResume(t *testing.T) {
	k := newTestKernel(t)
	p := NewProcess(1)
	th, err := k.CreateThread(p, 0x1000, 0, false)
	require.NoError(t, err)
	require.Equal(t, ThreadReady, th.State())

	require.NoError(t, k.SetThreadState(th, ThreadSuspended))
	require.Equal(t, ThreadSuspended, th.State())
	require.False(t, th.InSchedulerQueue())

	require.NoError(t, k.SetThreadState(th, ThreadReady))
	require.Equal(t, ThreadReady, th.State())
	require.True(t, th.InSchedulerQueue())

	// A thread already Running cannot be suspended via this entry point.
	th.state.Store(ThreadRunning)
	require.Error(t, k.SetThreadState(th, ThreadSuspended))
}

func TestTLSRoundTripViaKernel(t *testing.T) {
	k := newTestKernel(t)
	p := NewProcess(1)
	th, err := k.CreateThread(p, 0x1000, 0, true)
	require.NoError(t, err)

	idx, err := k.TLSAllocate(th)
	require.NoError(t, err)
	require.NoError(t, k.TLSSet(th, idx, 0x1234))

	v, err := k.TLSGet(th, idx)
	require.NoError(t, err)
	require.EqualValues(t, 0x1234, v)

	require.NoError(t, k.TLSFree(th, idx))
	_, err = k.TLSGet(th, idx)
	require.Error(t, err)
}

func TestTerminateThreadDecrementsRefcountAndFreesStacks(t *testing.T) {
	k := newTestKernel(t)
	p := NewProcess(1, func(p *Process) { p.AddressSpace = struct{}{} })
	th, err := k.CreateThread(p, 0x1000, 0, true)
	require.NoError(t, err)
	require.NotNil(t, th.userStack)
	require.EqualValues(t, 1, th.RefCount())

	th.Reference()
	require.EqualValues(t, 2, th.RefCount())

	require.NoError(t, k.TerminateThread(th))
	require.Equal(t, ThreadTerminated, th.State())
	require.Nil(t, th.kernelStack)
	require.Nil(t, th.userStack)
	require.EqualValues(t, 1, th.RefCount())
}

func TestWeakProcessReferenceResolvesWhileProcessReachable(t *testing.T) {
	k := newTestKernel(t)
	p := NewProcess(1)
	th, err := k.CreateThread(p, 0x1000, 0, true)
	require.NoError(t, err)
	require.Equal(t, p, th.Process())

	// GroupID reads through the weak pointer; with the process still
	// reachable this must reflect the process's value.
	p.GroupID = 99
	require.EqualValues(t, 99, th.GroupID())
}

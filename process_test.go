package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewProcessDefaults(t *testing.T) {
	p := NewProcess(42)
	require.EqualValues(t, 42, p.ID)
	require.Equal(t, NormalPriority, p.BasePriority)
	require.Equal(t, ProcessCreated, p.State())
	require.Equal(t, 0, p.ThreadCount())
}

func TestNewProcessOptions(t *testing.T) {
	p := NewProcess(1, func(p *Process) {
		p.BasePriority = RealTimeThreshold + 1
		p.GroupID = 7
	})
	require.Equal(t, RealTimeThreshold+1, p.BasePriority)
	require.EqualValues(t, 7, p.GroupID)
}

func TestProcessAutoTerminatesWhenThreadCountReachesZero(t *testing.T) {
	k := newTestKernel(t)
	p := NewProcess(1)

	t1, err := k.CreateThread(p, 0x1000, 0, true)
	require.NoError(t, err)
	t2, err := k.CreateThread(p, 0x2000, 0, true)
	require.NoError(t, err)

	require.Equal(t, 2, p.ThreadCount())
	require.Equal(t, ProcessRunning, p.State())

	require.NoError(t, k.TerminateThread(t1))
	require.Equal(t, 1, p.ThreadCount())
	require.Equal(t, ProcessRunning, p.State())

	require.NoError(t, k.TerminateThread(t2))
	require.Equal(t, 0, p.ThreadCount())
	require.Equal(t, ProcessTerminated, p.State())
}

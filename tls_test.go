package kernel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTLSAllocGetSetFree(t *testing.T) {
	tbl := newTLSTable()

	idx, err := tbl.alloc()
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	require.NoError(t, tbl.set(idx, 0xdead))
	val, err := tbl.get(idx)
	require.NoError(t, err)
	require.EqualValues(t, 0xdead, val)

	require.NoError(t, tbl.free(idx))
	_, err = tbl.get(idx)
	require.Error(t, err)
}

func TestTLSFreeIndexReusedLIFO(t *testing.T) {
	tbl := newTLSTable()
	a, _ := tbl.alloc()
	b, _ := tbl.alloc()
	require.NoError(t, tbl.set(a, 1))
	require.NoError(t, tbl.set(b, 2))

	require.NoError(t, tbl.free(b))
	require.NoError(t, tbl.free(a))

	// LIFO free list: a was freed last, so it's the next one handed out,
	// ahead of any forward scan via lastSearchIndex.
	reused, err := tbl.alloc()
	require.NoError(t, err)
	require.Equal(t, a, reused)

	val, err := tbl.get(reused)
	require.NoError(t, err)
	require.Zero(t, val, "a freshly reused slot must read back as zero")
}

func TestTLSExhaustionAtMaxSlots(t *testing.T) {
	tbl := newTLSTable()
	for i := 0; i < tlsMaxSlots; i++ {
		_, err := tbl.alloc()
		require.NoError(t, err, "allocation %d of %d should succeed", i+1, tlsMaxSlots)
	}
	_, err := tbl.alloc()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNoMoreEntries))
}

func TestTLSDoubleFreeRejected(t *testing.T) {
	tbl := newTLSTable()
	idx, _ := tbl.alloc()
	require.NoError(t, tbl.free(idx))
	require.Error(t, tbl.free(idx))
}

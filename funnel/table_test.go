package funnel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudflare/datacore/memarena"
)

func TestSeedScenarioGrowthUnderLoad(t *testing.T) {
	tbl, merr := New[uint64, uint64](16, 0.5, memarena.NewHeap(), HashUint64)
	require.Equal(t, MakeOK, merr)

	for i := uint64(0); i < 300; i++ {
		res := tbl.Set(i, i*100)
		require.NotEqual(t, Failed, res)
	}
	for i := uint64(0); i < 300; i++ {
		v, found := tbl.Get(i)
		require.True(t, found, "key %d must be present", i)
		require.Equal(t, i*100, v)
	}
	require.GreaterOrEqual(t, tbl.capacity, uint32(32))
}

func TestInvalidCapacityRejected(t *testing.T) {
	_, merr := New[uint64, uint64](7, 0.5, memarena.NewHeap(), HashUint64)
	require.Equal(t, InvalidCapacity, merr)

	_, merr = New[uint64, uint64](15, 0.5, memarena.NewHeap(), HashUint64)
	require.Equal(t, InvalidCapacity, merr)
}

func TestSetGetRemoveRoundTrip(t *testing.T) {
	tbl, merr := New[string, int](16, 0.25, memarena.NewHeap(), HashString)
	require.Equal(t, MakeOK, merr)

	require.Equal(t, Inserted, tbl.Set("alpha", 1))
	require.Equal(t, Inserted, tbl.Set("beta", 2))
	require.Equal(t, Replaced, tbl.Set("alpha", 11))

	v, found := tbl.Get("alpha")
	require.True(t, found)
	require.Equal(t, 11, v)

	require.True(t, tbl.Remove("alpha"))
	_, found = tbl.Get("alpha")
	require.False(t, found)
	require.False(t, tbl.Remove("alpha"))

	v, found = tbl.Get("beta")
	require.True(t, found)
	require.Equal(t, 2, v)
}

func TestLengthTracksInsertsAndRemoves(t *testing.T) {
	tbl, _ := New[uint64, uint64](32, 0.5, memarena.NewHeap(), HashUint64)
	for i := uint64(0); i < 20; i++ {
		tbl.Set(i, i)
	}
	require.Equal(t, 20, tbl.Len())

	tbl.Set(0, 999) // Replaced, length unchanged
	require.Equal(t, 20, tbl.Len())

	for i := uint64(0); i < 5; i++ {
		require.True(t, tbl.Remove(i))
	}
	require.Equal(t, 15, tbl.Len())
}

func TestGrowthPreservesOverflowEntries(t *testing.T) {
	tbl, _ := New[uint64, uint64](8, 0.9, memarena.NewHeap(), HashUint64)
	const n = 500
	for i := uint64(0); i < n; i++ {
		require.NotEqual(t, Failed, tbl.Set(i, i*3+1))
	}
	for i := uint64(0); i < n; i++ {
		v, found := tbl.Get(i)
		require.True(t, found)
		require.Equal(t, i*3+1, v)
	}
}

func TestClearEmptiesTableAndPreservesCapacity(t *testing.T) {
	tbl, _ := New[uint64, uint64](16, 0.5, memarena.NewHeap(), HashUint64)
	for i := uint64(0); i < 10; i++ {
		tbl.Set(i, i)
	}
	capBefore := tbl.capacity
	tbl.Clear()
	require.Equal(t, 0, tbl.Len())
	require.Equal(t, capBefore, tbl.capacity)
	for i := uint64(0); i < 10; i++ {
		_, found := tbl.Get(i)
		require.False(t, found)
	}
}

func TestContainsMatchesGet(t *testing.T) {
	tbl, _ := New[uint64, uint64](16, 0.5, memarena.NewHeap(), HashUint64)
	tbl.Set(42, 1)
	require.True(t, tbl.Contains(42))
	require.False(t, tbl.Contains(43))
}

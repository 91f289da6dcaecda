package memarena

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeapAllocIsZeroed(t *testing.T) {
	h := NewHeap()
	b, err := h.Alloc(16)
	require.NoError(t, err)
	require.Len(t, b, 16)
	for _, v := range b {
		require.Equal(t, byte(0), v)
	}
}

func TestHeapFreeRemovesTracking(t *testing.T) {
	h := NewHeap()
	b, err := h.Alloc(8)
	require.NoError(t, err)
	require.Len(t, h.live, 1)
	h.Free(b)
	require.Len(t, h.live, 0)
}

func TestArenaBumpsWithinChunk(t *testing.T) {
	a := NewArena(64)
	b1, err := a.Alloc(16)
	require.NoError(t, err)
	b2, err := a.Alloc(16)
	require.NoError(t, err)
	require.Len(t, a.chunks, 1)
	require.Equal(t, 32, a.used[0])
	// b1 and b2 must not overlap.
	for i := range b1 {
		b1[i] = 0xAA
	}
	for i := range b2 {
		b2[i] = 0xBB
	}
	for _, v := range b1 {
		require.Equal(t, byte(0xAA), v)
	}
}

func TestArenaGrowsNewChunkWhenExhausted(t *testing.T) {
	a := NewArena(16)
	_, err := a.Alloc(16)
	require.NoError(t, err)
	_, err = a.Alloc(8)
	require.NoError(t, err)
	require.Len(t, a.chunks, 2)
}

func TestArenaAllocLargerThanChunkSize(t *testing.T) {
	a := NewArena(8)
	b, err := a.Alloc(100)
	require.NoError(t, err)
	require.Len(t, b, 100)
}

func TestArenaFreeAllResetsCursorsNotStorage(t *testing.T) {
	a := NewArena(64)
	_, err := a.Alloc(32)
	require.NoError(t, err)
	require.Equal(t, 32, a.used[0])
	reserved := a.Reserved()
	a.FreeAll()
	require.Equal(t, 0, a.used[0])
	require.Equal(t, reserved, a.Reserved())
}

func TestScopedReleaseAllowsReuse(t *testing.T) {
	s := NewScoped(32)
	_, err := s.Alloc(32)
	require.NoError(t, err)
	s.Release()
	_, err = s.Alloc(32)
	require.NoError(t, err)
	require.Len(t, s.chunks, 1)
}

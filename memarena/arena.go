package memarena

// defaultChunkSize is the size of each backing chunk an Arena grows by
// when the current chunk can't satisfy a request. Mirrors the fixed
// buffer size a sync.Pool-backed buffer.Pool hands out, except an Arena
// owns a growing list of chunks instead of pooling equally-sized ones
// across unrelated callers.
const defaultChunkSize = 4096

// Arena is a bump allocator: Alloc carves memory off the end of the
// current chunk, growing a new chunk only when the current one is
// exhausted. Free is a no-op — arenas don't support per-object release.
// FreeAll resets every chunk's cursor to zero and reuses the backing
// storage for the next round: bump allocation that is cheaply reset
// rather than freed and reallocated. The fuse construction scratch does
// not draw from an Arena; it is held in plain Go slices.
type Arena struct {
	chunkSize int
	chunks    [][]byte
	used      []int // used[i] is the bump cursor into chunks[i]
}

// NewArena returns an Arena that grows in chunkSize-byte increments.
// A chunkSize <= 0 selects a default.
func NewArena(chunkSize int) *Arena {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Arena{chunkSize: chunkSize}
}

func (a *Arena) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrOutOfMemory
	}
	if n == 0 {
		return nil, nil
	}
	for i := range a.chunks {
		if len(a.chunks[i])-a.used[i] >= n {
			start := a.used[i]
			a.used[i] = start + n
			region := a.chunks[i][start : start+n : start+n]
			// FreeAll resets the cursor but doesn't scrub prior contents;
			// zero here so Alloc's zeroed-memory contract holds across
			// reused chunks, not just freshly grown ones.
			for j := range region {
				region[j] = 0
			}
			return region, nil
		}
	}
	size := a.chunkSize
	if n > size {
		size = n
	}
	a.chunks = append(a.chunks, make([]byte, size))
	a.used = append(a.used, n)
	last := len(a.chunks) - 1
	return a.chunks[last][0:n:n], nil
}

// Free is a no-op: arenas reclaim memory only via FreeAll.
func (a *Arena) Free(b []byte) {}

// FreeAll resets every chunk's bump cursor to zero without releasing the
// underlying storage, so the next construction attempt reuses it.
func (a *Arena) FreeAll() {
	for i := range a.used {
		a.used[i] = 0
	}
}

// Reserved reports the total byte capacity currently held across all
// chunks, for callers sizing retry budgets.
func (a *Arena) Reserved() int {
	total := 0
	for _, c := range a.chunks {
		total += len(c)
	}
	return total
}

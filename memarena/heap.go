package memarena

// Heap is the trivial Allocator: every Alloc is a fresh make([]byte, n),
// Free drops that allocation from the bookkeeping slice so the garbage
// collector can reclaim it, and FreeAll drops the whole bookkeeping slice
// so those allocations become collectible. It is
// the right choice for containers that don't reuse scratch space across
// calls, such as a capnp Segment's backing buffer or a fuse Filter's
// persistent fingerprint array.
type Heap struct {
	live [][]byte
}

// NewHeap returns a ready-to-use Heap allocator.
func NewHeap() *Heap {
	return &Heap{}
}

func (h *Heap) Alloc(n int) ([]byte, error) {
	b := make([]byte, n)
	h.live = append(h.live, b)
	return b, nil
}

func (h *Heap) Free(b []byte) {
	for i, live := range h.live {
		if sameBacking(live, b) {
			h.live[i] = h.live[len(h.live)-1]
			h.live = h.live[:len(h.live)-1]
			return
		}
	}
}

func (h *Heap) FreeAll() {
	h.live = nil
}

func sameBacking(a, b []byte) bool {
	return len(a) == len(b) && cap(a) == cap(b) && (len(a) == 0 || &a[0] == &b[0])
}

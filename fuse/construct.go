package fuse

import "math"

const maxConstructAttempts = 100

// deriveParams computes capacity, segmentLen and segmentCount from the key
// count n, per the binary fuse filter sizing formulas: a capacity overhead
// factor that shrinks as n grows, and a segment length chosen so three
// consecutive segments give a wide-enough window for the peeling hypergraph
// to resolve without excessive collisions.
func deriveParams(n int) (capacity, segmentLen, segmentCount uint32) {
	if n <= 1 {
		n = 2
	}
	nf := float64(n)

	ratio := math.Log(1e6) / math.Log(nf)
	if ratio < 1 {
		ratio = 1
	}
	capacityF := (0.875 + 0.25*ratio) * nf
	capacity = uint32(math.Floor(capacityF))

	segExp := math.Log(nf)/math.Log(3.33) + 2.25
	segmentLen = uint32(math.Pow(2, math.Floor(segExp)))
	const minSegmentLen = 32
	const maxSegmentLen = 262144
	if segmentLen < minSegmentLen {
		segmentLen = minSegmentLen
	}
	if segmentLen > maxSegmentLen {
		segmentLen = maxSegmentLen
	}

	if rem := capacity % segmentLen; rem != 0 {
		capacity += segmentLen - rem
	}
	if capacity < 3*segmentLen {
		capacity = 3 * segmentLen
	}
	segmentCount = capacity / segmentLen
	return capacity, segmentLen, segmentCount
}

func nextPow2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	p := uint32(1)
	for p < n {
		p <<= 1
	}
	return p
}

// stackEntry is one peeled key: its full hash (recovered from a slot's
// xor-sum, which equals exactly the one surviving key's hash once that
// slot's degree drops to one), which of its three slots it was peeled
// from, and the three slot indices, recorded during peeling so assign
// doesn't need to recompute them.
type stackEntry struct {
	h     uint64
	which int
	h0    h012
}

type h012 [3]uint32

// constructScratch holds the degree/xor-sum accumulators and ring queue
// buffer reused across retry attempts: spec.md's construction scratch is
// "retained across retries (zeroed, not reallocated)" rather than freed and
// regrown on every failed seed. The buffers are plain Go slices; they are
// not drawn from a memarena allocator.
type constructScratch struct {
	degree []uint32
	xorsum []uint64
	ring   []uint32
}

func newConstructScratch(capacity uint32) *constructScratch {
	return &constructScratch{
		degree: make([]uint32, capacity),
		xorsum: make([]uint64, capacity),
		ring:   make([]uint32, nextPow2(capacity)),
	}
}

func (s *constructScratch) reset() {
	for i := range s.degree {
		s.degree[i] = 0
		s.xorsum[i] = 0
	}
}

// attempt runs one peeling construction pass for the given seed. It returns
// the assignment stack (one entry per key, in peel order) and true on
// success, or nil and false if the hypergraph contains a cycle (some index
// never reaches degree 1 and the stack doesn't cover every key).
func attempt(keys []uint64, seed uint64, segmentCountMinus2 uint64, segmentLen, capacity uint32, s *constructScratch) ([]stackEntry, bool) {
	s.reset()
	degree := s.degree
	xorsum := s.xorsum

	for _, k := range keys {
		h := mixSplit(k, seed)
		h0, h1, h2 := tripleIndices(h, segmentCountMinus2, segmentLen)
		degree[h0]++
		degree[h1]++
		degree[h2]++
		xorsum[h0] ^= h
		xorsum[h1] ^= h
		xorsum[h2] ^= h
	}

	ring := s.ring
	ringMask := uint32(len(ring)) - 1
	head, tail := uint32(0), uint32(0)
	push := func(i uint32) {
		ring[tail&ringMask] = i
		tail++
	}
	empty := func() bool { return head == tail }
	pop := func() uint32 {
		i := ring[head&ringMask]
		head++
		return i
	}

	for i := uint32(0); i < capacity; i++ {
		if degree[i] == 1 {
			push(i)
		}
	}

	stack := make([]stackEntry, 0, len(keys))
	for !empty() {
		i := pop()
		if degree[i] != 1 {
			continue // stale queue entry, degree changed since it was pushed
		}
		h := xorsum[i]
		h0, h1, h2 := tripleIndices(h, segmentCountMinus2, segmentLen)
		which := 0
		switch i {
		case h0:
			which = 0
		case h1:
			which = 1
		case h2:
			which = 2
		default:
			continue // stale: i's xorsum no longer corresponds to a single key at i
		}
		stack = append(stack, stackEntry{h: h, which: which, h0: h012{h0, h1, h2}})

		for _, idx := range [3]uint32{h0, h1, h2} {
			degree[idx]--
			xorsum[idx] ^= h
			if degree[idx] == 1 {
				push(idx)
			}
		}
	}

	if len(stack) != len(keys) {
		return nil, false
	}
	return stack, true
}

// assign replays the peel stack from top (last peeled) to bottom (first
// peeled), writing each key's fingerprint into its assigned slot such that
// fp(h) == fingerprints[h0] ^ fingerprints[h1] ^ fingerprints[h2] holds for
// every key once all n entries have been written.
func assign(stack []stackEntry, fingerprints []uint8) {
	for i := len(stack) - 1; i >= 0; i-- {
		e := stack[i]
		fp := fingerprint(e.h)
		cur := fingerprints[e.h0[0]] ^ fingerprints[e.h0[1]] ^ fingerprints[e.h0[2]]
		fingerprints[e.h0[e.which]] = fp ^ cur
	}
}

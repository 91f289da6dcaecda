// Package fuse implements a binary fuse filter: a static, space-efficient
// probabilistic set-membership structure built by peeling a 3-uniform
// hypergraph over the key set and assigning one-byte fingerprints so that
// fp(key) == fingerprints[h0] ^ fingerprints[h1] ^ fingerprints[h2] holds
// for every constructed key, with a false-positive rate around 1/256 for
// non-members.
package fuse

import (
	"sync/atomic"
	"time"

	"github.com/cloudflare/datacore/internal/avalanche"
	"github.com/cloudflare/datacore/memarena"
)

// Filter is an immutable set-membership structure. Contain never fails;
// absence of a key is probabilistic (false positives possible, false
// negatives never for keys present at construction time).
type Filter struct {
	seed               uint64
	segmentLen         uint32
	segmentCount       uint32
	segmentCountMinus2 uint64
	fingerprints       []uint8
}

var seedCounter uint64

// nextSeed derives a fresh construction seed from a monotonic counter mixed
// with the current time, standing in for the cycle-counter entropy source
// spec.md calls for when the caller doesn't need deterministic construction.
func nextSeed() uint64 {
	c := atomic.AddUint64(&seedCounter, 1)
	return avalanche.Finalize(uint64(time.Now().UnixNano()) ^ c)
}

// New constructs a filter over keys using a fresh, non-deterministic seed.
// keys must be unique; duplicate keys are a documented caller contract
// violation and will generally (not always) surface as ok=false once the
// peeling hypergraph can't be fully resolved.
func New(keys []uint64, allocator memarena.Allocator) (*Filter, bool) {
	return NewSeeded(keys, nextSeed(), allocator)
}

// NewSeeded constructs a filter deterministically: the same keys and seed
// always produce the same fingerprint array.
func NewSeeded(keys []uint64, seed uint64, allocator memarena.Allocator) (*Filter, bool) {
	n := len(keys)
	capacity, segmentLen, segmentCount := deriveParams(n)
	segmentCountMinus2 := uint64(segmentCount - 2)

	scratch := newConstructScratch(capacity)

	trySeed := seed
	for i := 0; i < maxConstructAttempts; i++ {
		stack, ok := attempt(keys, trySeed, segmentCountMinus2, segmentLen, capacity, scratch)
		if ok {
			buf, err := allocator.Alloc(int(capacity))
			if err != nil {
				return nil, false
			}
			fingerprints := buf[:capacity]
			assign(stack, fingerprints)
			return &Filter{
				seed:               trySeed,
				segmentLen:         segmentLen,
				segmentCount:       segmentCount,
				segmentCountMinus2: segmentCountMinus2,
				fingerprints:       fingerprints,
			}, true
		}
		trySeed = avalanche.Mix(seed, uint64(i+1))
	}
	return nil, false
}

// Destroy releases the filter's persistent fingerprint array back to the
// allocator it was built with.
func (f *Filter) Destroy(allocator memarena.Allocator) {
	allocator.Free(f.fingerprints)
	f.fingerprints = nil
}

// Contain reports whether key was a member of the set the filter was built
// over. Never returns an error; may false-positive on non-members at a
// rate of roughly 1/256, never false-negatives on members.
func (f *Filter) Contain(key uint64) bool {
	h := mixSplit(key, f.seed)
	h0, h1, h2 := tripleIndices(h, f.segmentCountMinus2, f.segmentLen)
	return fingerprint(h) == f.fingerprints[h0]^f.fingerprints[h1]^f.fingerprints[h2]
}

// ContainBatch evaluates Contain for every key in keys, writing each result
// to the matching index of results (which must have the same length as
// keys). Dispatches to the architecture's vectorised batchContain when
// available, falling back to a scalar loop otherwise; results are
// bit-for-bit identical either way.
func (f *Filter) ContainBatch(keys []uint64, results []bool) {
	batchContain(f, keys, results)
}

// SegmentLen returns the power-of-two segment length chosen at
// construction, exposed for diagnostics and the invariant that it is
// always a power of two.
func (f *Filter) SegmentLen() uint32 { return f.segmentLen }

// BitsPerKey estimates the filter's size overhead for n constructed keys:
// the fingerprint array is segmentCount*segmentLen bytes regardless of n,
// so the effective bits-per-key shrinks as n approaches capacity.
func (f *Filter) BitsPerKey(n int) float64 {
	if n == 0 {
		return 0
	}
	return float64(len(f.fingerprints)*8) / float64(n)
}

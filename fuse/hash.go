package fuse

import (
	"math/bits"

	"github.com/cloudflare/datacore/internal/avalanche"
)

// mixSplit derives the per-construction-attempt hash of a key: XOR the seed
// in before avalanching, so every retry attempt (fresh seed) produces an
// independent-looking hash without re-hashing the key's own bytes.
func mixSplit(key, seed uint64) uint64 {
	return avalanche.Finalize(key ^ seed)
}

// fingerprint extracts the 8-bit fingerprint stored in a segment slot: the
// low byte of h XOR its own high half, so it depends on the whole hash
// rather than just its low bits.
func fingerprint(h uint64) uint8 {
	return uint8(h ^ (h >> 32))
}

// tripleIndices picks the base segment for h via a 128-bit multiply-high
// (bits.Mul64) against segmentCountMinus2, then derives the three segment
// slots h0, h1, h2 spanning three consecutive segments starting at base.
// segmentLen must be a power of two; mask = segmentLen-1.
func tripleIndices(h uint64, segmentCountMinus2 uint64, segmentLen uint32) (h0, h1, h2 uint32) {
	mask := uint64(segmentLen - 1)
	hi, _ := bits.Mul64(h, segmentCountMinus2)
	base := uint32(hi)
	h0 = base*segmentLen + uint32(h&mask)
	h1 = (base+1)*segmentLen + uint32((h>>21)&mask)
	h2 = (base+2)*segmentLen + uint32((h>>42)&mask)
	return h0, h1, h2
}

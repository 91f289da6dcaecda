// Package avalanche implements the 64-bit finalizer shared by the fuse
// filter and the funnel table for turning a seeded key hash into a
// well-mixed value suitable for bucket/segment indexing. Both cores derive
// multiple independent-looking indices from a single hash by re-mixing with
// this finalizer, so the constants are wire-contract-relevant and must not
// drift between the two packages.
package avalanche

// Finalize is the murmur3-style 64-bit mixer: h ^= h>>33; h *= c1; h ^=
// h>>33; h *= c2; h ^= h>>33. Fixed constants, bit-exact across callers.
func Finalize(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// Mix re-derives an independent hash from h0 for index i, used to get
// per-level (funnel) or per-branch (fuse retry seed) hashes out of one base
// hash without a second independent hash function.
func Mix(h0 uint64, i uint64) uint64 {
	return Finalize(h0 + i*0x9e3779b97f4a7c15)
}

package funnel

import (
	"github.com/cespare/xxhash/v2"

	"github.com/cloudflare/datacore/internal/avalanche"
)

// HashBytes hashes a byte-slice key's content with xxhash-64 and folds in
// the seed with the shared avalanche finalizer, for composite keys whose
// equality is content equality. go.mod pins xxhash v2.1.2, which predates
// the seeded-digest API (NewWithSeed/Sum64WithSeed), so the seed is mixed
// in afterward instead of passed into the digest.
func HashBytes(seed uint64, b []byte) uint64 {
	return avalanche.Finalize(xxhash.Sum64(b) ^ seed)
}

// HashString hashes a string key's content the same way as HashBytes,
// without copying it to a byte slice first.
func HashString(seed uint64, s string) uint64 {
	return avalanche.Finalize(xxhash.Sum64String(s) ^ seed)
}

// HashUint64 hashes a fixed-size uint64 key by avalanching its bytes XORed
// with the seed — fixed-size keys hash over their own bytes per spec, and a
// uint64 already is its own byte representation.
func HashUint64(seed uint64, k uint64) uint64 {
	return avalanche.Finalize(k ^ seed)
}

// HashUint32 hashes a fixed-size uint32 key the same way as HashUint64.
func HashUint32(seed uint64, k uint32) uint64 {
	return avalanche.Finalize(uint64(k) ^ seed)
}

// levelHash derives the per-level (or per-overflow-probe) hash h_i from the
// base hash h0, sharing the avalanche finalizer fuse's hash.go uses so the
// same constants back both cores per spec.md §9.
func levelHash(h0 uint64, i int) uint64 {
	return avalanche.Mix(h0, uint64(i))
}

//go:build amd64

package fuse

// batchContain is the amd64 fast path: mix_split is computed four keys at a
// time so the compiler can interleave the independent multiply chains
// across lanes (the scalar multiplies/shifts of mixSplit have no
// cross-lane dependency, which is what lets four run back-to-back without
// stalling on each other's latency), matching the batch-then-scalar-tail
// shape of a vectorised hot loop with a scalar remainder. The three
// fingerprint-table reads per key are data-dependent gather accesses and
// stay scalar, exactly as spec.md calls for.
func batchContain(f *Filter, keys []uint64, results []bool) {
	n := len(keys)
	i := 0
	for ; i+4 <= n; i += 4 {
		h0 := mixSplit(keys[i+0], f.seed)
		h1 := mixSplit(keys[i+1], f.seed)
		h2 := mixSplit(keys[i+2], f.seed)
		h3 := mixSplit(keys[i+3], f.seed)

		a0, b0, c0 := tripleIndices(h0, f.segmentCountMinus2, f.segmentLen)
		a1, b1, c1 := tripleIndices(h1, f.segmentCountMinus2, f.segmentLen)
		a2, b2, c2 := tripleIndices(h2, f.segmentCountMinus2, f.segmentLen)
		a3, b3, c3 := tripleIndices(h3, f.segmentCountMinus2, f.segmentLen)

		fp := f.fingerprints
		results[i+0] = fingerprint(h0) == fp[a0]^fp[b0]^fp[c0]
		results[i+1] = fingerprint(h1) == fp[a1]^fp[b1]^fp[c1]
		results[i+2] = fingerprint(h2) == fp[a2]^fp[b2]^fp[c2]
		results[i+3] = fingerprint(h3) == fp[a3]^fp[b3]^fp[c3]
	}
	for ; i < n; i++ {
		results[i] = f.Contain(keys[i])
	}
}

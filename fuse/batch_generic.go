//go:build !amd64

package fuse

// batchContain is the portable fallback for architectures without the
// 4-lane unrolled fast path: a plain scalar loop, identical in result to
// the amd64 batch path.
func batchContain(f *Filter, keys []uint64, results []bool) {
	for i, k := range keys {
		results[i] = f.Contain(k)
	}
}

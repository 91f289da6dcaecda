package funnel

import "math/bits"

// overflowB is a uniform double-hashing probe area: the probe sequence for
// hash pair (h1, h2) is start=h1 mod size, step=1+(h2 mod (size-1)), walked
// for up to probeLimit slots. Empty terminates the probe; Filled-no-match
// and Tombstone do not.
type overflowB struct {
	offset     uint32
	size       uint32
	probeLimit int
}

func (ob overflowB) probeStart(h1 uint64) uint32 {
	return uint32(h1 % uint64(ob.size))
}

func (ob overflowB) probeStep(h2 uint64) uint32 {
	if ob.size <= 1 {
		return 1
	}
	return uint32(h2%uint64(ob.size-1)) + 1
}

func (ob overflowB) slotAt(probe uint32, start, step uint32) uint32 {
	return ob.offset + (start+probe*step)%ob.size
}

// overflowC is a two-choice bucket area: each key maps to two candidate
// buckets (via two independent hash derivations) of bucketSize slots each,
// and insertion targets whichever candidate currently holds fewer Filled
// slots.
type overflowC struct {
	offset      uint32
	bucketSize  uint32
	bucketCount uint32
}

func (oc overflowC) slotCount() uint32 { return oc.bucketSize * oc.bucketCount }

func (oc overflowC) bucketIndex(h uint64) uint32 {
	hi, _ := bits.Mul64(h, uint64(oc.bucketCount))
	return uint32(hi)
}

func (oc overflowC) bucketStart(i uint32) uint32 {
	return oc.offset + i*oc.bucketSize
}

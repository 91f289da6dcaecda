package funnel

import "math/bits"

// level is a (offset, length) view into the table's shared backing
// arrays: bucketCount buckets of bucketSize slots each, starting at slot
// index offset. Levels never own storage directly — they're ranges into
// one allocation, per spec.md §5's ownership-graph guidance for funnel
// levels.
type level struct {
	offset      uint32
	bucketSize  uint32
	bucketCount uint32
}

func (lv level) slotCount() uint32 { return lv.bucketSize * lv.bucketCount }

// bucketIndex picks bucket i in [0, bucketCount) for hash h via a 64-bit
// multiply-high, the same uniform bucket-pick technique the fuse filter
// uses for its base segment index.
func (lv level) bucketIndex(h uint64) uint32 {
	hi, _ := bits.Mul64(h, uint64(lv.bucketCount))
	return uint32(hi)
}

// bucketStart returns the slot offset of bucket i's first slot.
func (lv level) bucketStart(i uint32) uint32 {
	return lv.offset + i*lv.bucketSize
}

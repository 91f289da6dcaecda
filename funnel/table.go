// Package funnel implements a funnel hash table: an open-addressed table
// whose insertions cascade through a geometrically shrinking sequence of
// levels, falling through to a uniform double-hashing overflow area and
// finally a two-choice overflow area, giving optimal worst-case probe
// complexity independent of load factor.
package funnel

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/cloudflare/datacore/internal/avalanche"
	"github.com/cloudflare/datacore/memarena"
)

type slotState uint8

const (
	stateEmpty slotState = iota
	stateFilled
	stateTombstone
)

// InsertResult is the outcome of Set.
type InsertResult int

const (
	Inserted InsertResult = iota
	Replaced
	// Failed signals every level and overflow area rejected the insert.
	// Set reacts to it by growing and rebuilding and retrying internally;
	// it returns Failed only when a grow-and-rebuild itself fails.
	Failed
)

// MakeError is the outcome of New.
type MakeError int

const (
	MakeOK MakeError = iota
	InvalidCapacity
	AllocError
)

// HashFunc hashes a key under a table seed. Composite keys (strings, byte
// slices) hash over their content via HashBytes/HashString; fixed-size
// keys hash over their own bytes via HashUint64/HashUint32.
type HashFunc[K comparable] func(seed uint64, key K) uint64

// Table is a funnel hash table mapping keys of type K to values of type V.
// Not safe for concurrent use without external synchronization.
type Table[K comparable, V any] struct {
	allocator memarena.Allocator
	hashKey   HashFunc[K]
	delta     float64
	seed      uint64

	capacity    uint32
	length      int
	tombstones  int
	resizeCount int

	levels    []level
	overflowB overflowB
	overflowC overflowC

	state  []uint8
	hashes []uint64
	keys   []K
	values []V

	levelInsertCounts []int
	overflowBInserts  int
	overflowCInserts  int
}

var tableSeedCounter uint64

func nextTableSeed() uint64 {
	c := atomic.AddUint64(&tableSeedCounter, 1)
	return avalanche.Finalize(uint64(time.Now().UnixNano()) ^ c)
}

// New constructs a funnel table with room for roughly capacity entries at
// slack factor delta (smaller delta means deeper levels and fewer overflow
// fallbacks, at the cost of more memory). capacity must be a power of two
// and at least 8.
func New[K comparable, V any](capacity uint32, delta float64, allocator memarena.Allocator, hashKey HashFunc[K]) (*Table[K, V], MakeError) {
	if capacity < 8 || capacity&(capacity-1) != 0 {
		return nil, InvalidCapacity
	}
	t := &Table[K, V]{
		allocator: allocator,
		hashKey:   hashKey,
		delta:     delta,
		seed:      nextTableSeed(),
	}
	if merr := t.buildStorage(capacity); merr != MakeOK {
		return nil, merr
	}
	return t, MakeOK
}

// Destroy releases the table's backing state array back to its allocator.
func (t *Table[K, V]) Destroy() {
	t.allocator.Free(t.state)
	t.state = nil
}

// Len reports the number of live (non-removed) entries.
func (t *Table[K, V]) Len() int { return t.length }

// Capacity reports the table's current target capacity. It grows (doubling)
// whenever a grow-and-rebuild succeeds.
func (t *Table[K, V]) Capacity() uint32 { return t.capacity }

// ResizeCount reports how many successful grow-and-rebuild cycles this
// table has undergone since construction.
func (t *Table[K, V]) ResizeCount() int { return t.resizeCount }

// InsertDistribution reports how many inserts landed directly in each
// level (indexed by level 0..α-1) versus falling through to overflow area
// B or C, since the table's last build or rebuild.
func (t *Table[K, V]) InsertDistribution() (perLevel []int, overflowB, overflowC int) {
	perLevel = make([]int, len(t.levelInsertCounts))
	copy(perLevel, t.levelInsertCounts)
	return perLevel, t.overflowBInserts, t.overflowCInserts
}

// levelParams derives α (level count) and β (bucket size) from the slack
// factor δ per spec.md §3.3: α = ⌈4·log2(1/δ) + 10⌉, β = max(⌈2·log2(1/δ)⌉, 2).
func levelParams(delta float64) (alpha int, beta uint32) {
	log2InvDelta := math.Log2(1 / delta)
	alpha = int(math.Ceil(4*log2InvDelta + 10))
	b := uint32(math.Ceil(2 * log2InvDelta))
	if b < 2 {
		b = 2
	}
	return alpha, b
}

// buildStorage lays out α levels, an overflow-B probe area and an
// overflow-C two-choice area as (offset, length) views into one shared set
// of parallel arrays, then allocates them. Resets length/tombstones to
// zero — callers doing a rebuild reinsert entries themselves afterward.
func (t *Table[K, V]) buildStorage(capacity uint32) MakeError {
	alpha, beta := levelParams(t.delta)

	levels := make([]level, 0, alpha)
	offset := uint32(0)
	sizeF := float64(capacity)
	for i := 0; i < alpha; i++ {
		raw := uint32(math.Ceil(math.Pow(0.75, float64(i)) * sizeF))
		if raw < beta {
			raw = beta
		}
		if rem := raw % beta; rem != 0 {
			raw += beta - rem
		}
		bucketCount := raw / beta
		levels = append(levels, level{offset: offset, bucketSize: beta, bucketCount: bucketCount})
		offset += raw
	}

	obSize := nextPow2(max32(16, capacity))
	n := capacity
	if n < 4 {
		n = 4
	}
	probeLimit := int(math.Ceil(2 * math.Log2(math.Log2(float64(n)))))
	if probeLimit < 1 {
		probeLimit = 1
	}
	ob := overflowB{offset: offset, size: obSize, probeLimit: probeLimit}
	offset += obSize

	ocBucketCount := max32(4, levels[0].bucketCount/2)
	oc := overflowC{offset: offset, bucketSize: beta, bucketCount: ocBucketCount}
	offset += oc.slotCount()

	total := int(offset)
	stateBuf, err := t.allocator.Alloc(total)
	if err != nil {
		return AllocError
	}

	t.levels = levels
	t.overflowB = ob
	t.overflowC = oc
	t.capacity = capacity
	t.length = 0
	t.tombstones = 0
	t.state = stateBuf
	t.hashes = make([]uint64, total)
	t.keys = make([]K, total)
	t.values = make([]V, total)
	t.levelInsertCounts = make([]int, alpha)
	t.overflowBInserts = 0
	t.overflowCInserts = 0
	return MakeOK
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

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// locate scans levels then overflow B then overflow C for key, returning
// the slot index holding it. Filled-but-no-match slots and tombstones
// never terminate a scan; only overflow B's linear probe terminates on an
// Empty slot (level bucket scans always walk their full β width, and
// overflow C scans both candidate buckets fully).
func (t *Table[K, V]) locate(key K) (uint32, bool) {
	h0 := t.hashKey(t.seed, key)

	for i, lv := range t.levels {
		hi := levelHash(h0, i)
		start := lv.bucketStart(lv.bucketIndex(hi))
		for s := start; s < start+lv.bucketSize; s++ {
			if slotState(t.state[s]) == stateFilled && t.hashes[s] == hi && t.keys[s] == key {
				return s, true
			}
		}
	}

	hB1 := levelHash(h0, len(t.levels))
	hB2 := levelHash(h0, len(t.levels)+1)
	start := t.overflowB.probeStart(hB1)
	step := t.overflowB.probeStep(hB2)
	for p := uint32(0); p < uint32(t.overflowB.probeLimit); p++ {
		s := t.overflowB.slotAt(p, start, step)
		state := slotState(t.state[s])
		if state == stateEmpty {
			break // empty terminates overflow B's linear probe
		}
		if state == stateFilled && t.hashes[s] == hB1 && t.keys[s] == key {
			return s, true
		}
	}

	hC1 := levelHash(h0, len(t.levels)+2)
	hC2 := levelHash(h0, len(t.levels)+3)
	for _, idx := range [2]uint32{t.overflowC.bucketIndex(hC1), t.overflowC.bucketIndex(hC2)} {
		start := t.overflowC.bucketStart(idx)
		for s := start; s < start+t.overflowC.bucketSize; s++ {
			if slotState(t.state[s]) == stateFilled && t.hashes[s] == hC1 && t.keys[s] == key {
				return s, true
			}
			if slotState(t.state[s]) == stateFilled && t.hashes[s] == hC2 && t.keys[s] == key {
				return s, true
			}
		}
	}
	return 0, false
}

// Get returns the value stored for key, if present.
func (t *Table[K, V]) Get(key K) (V, bool) {
	if s, ok := t.locate(key); ok {
		return t.values[s], true
	}
	var zero V
	return zero, false
}

// Contains reports whether key is currently present.
func (t *Table[K, V]) Contains(key K) bool {
	_, ok := t.locate(key)
	return ok
}

// Remove tombstones key's slot if present, returning whether it was found.
func (t *Table[K, V]) Remove(key K) bool {
	s, ok := t.locate(key)
	if !ok {
		return false
	}
	t.state[s] = uint8(stateTombstone)
	var zeroK K
	var zeroV V
	t.keys[s] = zeroK
	t.values[s] = zeroV
	t.length--
	t.tombstones++
	return true
}

// Clear empties every slot via a bulk fill, preserving capacity.
func (t *Table[K, V]) Clear() {
	for i := range t.state {
		t.state[i] = uint8(stateEmpty)
	}
	var zeroK K
	var zeroV V
	for i := range t.keys {
		t.keys[i] = zeroK
		t.values[i] = zeroV
	}
	t.length = 0
	t.tombstones = 0
}

// Set inserts or replaces key's value, growing and rebuilding the table if
// every level and overflow area rejects the insert. A rejected insert
// triggers a resize-and-retry, repeated until the insert lands; Failed
// reaches the caller only when a grow-and-rebuild cannot complete, in which
// case the table is left as it was.
func (t *Table[K, V]) Set(key K, value V) InsertResult {
	for {
		res := t.trySet(key, value)
		if res != Failed {
			return res
		}
		resizesBefore := t.resizeCount
		t.growAndRebuild()
		if t.resizeCount == resizesBefore {
			return Failed
		}
	}
}

// trySet runs the two-pass insert algorithm: pass 1 looks for a key match
// to replace, pass 2 looks for a free (or tombstoned) slot to insert into.
func (t *Table[K, V]) trySet(key K, value V) InsertResult {
	h0 := t.hashKey(t.seed, key)

	for i, lv := range t.levels {
		hi := levelHash(h0, i)
		start := lv.bucketStart(lv.bucketIndex(hi))
		for s := start; s < start+lv.bucketSize; s++ {
			if slotState(t.state[s]) == stateFilled && t.hashes[s] == hi && t.keys[s] == key {
				t.values[s] = value
				return Replaced
			}
		}
	}
	if res, ok := t.tryReplaceOverflow(h0, key, value); ok {
		return res
	}

	for i, lv := range t.levels {
		hi := levelHash(h0, i)
		start := lv.bucketStart(lv.bucketIndex(hi))
		tombstoneSlot, emptySlot := int64(-1), int64(-1)
		for s := start; s < start+lv.bucketSize; s++ {
			switch slotState(t.state[s]) {
			case stateTombstone:
				if tombstoneSlot == -1 {
					tombstoneSlot = int64(s)
				}
			case stateEmpty:
				if emptySlot == -1 {
					emptySlot = int64(s)
				}
			}
		}
		if emptySlot != -1 {
			target := emptySlot
			wasTombstone := false
			if tombstoneSlot != -1 {
				target = tombstoneSlot
				wasTombstone = true
			}
			t.fill(uint32(target), hi, key, value, wasTombstone)
			t.levelInsertCounts[i]++
			return Inserted
		}
	}

	if res, ok := t.tryInsertOverflowB(h0, key, value); ok {
		return res
	}
	if res, ok := t.tryInsertOverflowC(h0, key, value); ok {
		return res
	}
	return Failed
}

func (t *Table[K, V]) fill(slot uint32, hash uint64, key K, value V, wasTombstone bool) {
	t.state[slot] = uint8(stateFilled)
	t.hashes[slot] = hash
	t.keys[slot] = key
	t.values[slot] = value
	t.length++
	if wasTombstone {
		t.tombstones--
	}
}

func (t *Table[K, V]) tryReplaceOverflow(h0 uint64, key K, value V) (InsertResult, bool) {
	hB1 := levelHash(h0, len(t.levels))
	hB2 := levelHash(h0, len(t.levels)+1)
	start := t.overflowB.probeStart(hB1)
	step := t.overflowB.probeStep(hB2)
	for p := uint32(0); p < uint32(t.overflowB.probeLimit); p++ {
		s := t.overflowB.slotAt(p, start, step)
		state := slotState(t.state[s])
		if state == stateEmpty {
			break // empty terminates overflow B's linear probe
		}
		if state == stateFilled && t.hashes[s] == hB1 && t.keys[s] == key {
			t.values[s] = value
			return Replaced, true
		}
	}

	hC1 := levelHash(h0, len(t.levels)+2)
	hC2 := levelHash(h0, len(t.levels)+3)
	for _, pair := range [2][2]uint64{{hC1, uint64(t.overflowC.bucketIndex(hC1))}, {hC2, uint64(t.overflowC.bucketIndex(hC2))}} {
		h, idx := pair[0], uint32(pair[1])
		start := t.overflowC.bucketStart(idx)
		for s := start; s < start+t.overflowC.bucketSize; s++ {
			if slotState(t.state[s]) == stateFilled && t.hashes[s] == h && t.keys[s] == key {
				t.values[s] = value
				return Replaced, true
			}
		}
	}
	return 0, false
}

func (t *Table[K, V]) tryInsertOverflowB(h0 uint64, key K, value V) (InsertResult, bool) {
	hB1 := levelHash(h0, len(t.levels))
	hB2 := levelHash(h0, len(t.levels)+1)
	start := t.overflowB.probeStart(hB1)
	step := t.overflowB.probeStep(hB2)
	tombstoneSlot := int64(-1)
	for p := uint32(0); p < uint32(t.overflowB.probeLimit); p++ {
		s := t.overflowB.slotAt(p, start, step)
		switch slotState(t.state[s]) {
		case stateEmpty:
			target := s
			wasTombstone := false
			if tombstoneSlot != -1 {
				target = uint32(tombstoneSlot)
				wasTombstone = true
			}
			t.fill(target, hB1, key, value, wasTombstone)
			t.overflowBInserts++
			return Inserted, true
		case stateTombstone:
			if tombstoneSlot == -1 {
				tombstoneSlot = int64(s)
			}
		}
	}
	if tombstoneSlot != -1 {
		t.fill(uint32(tombstoneSlot), hB1, key, value, true)
		t.overflowBInserts++
		return Inserted, true
	}
	return 0, false
}

func (t *Table[K, V]) bucketLoad(oc overflowC, idx uint32) int {
	start := oc.bucketStart(idx)
	load := 0
	for s := start; s < start+oc.bucketSize; s++ {
		if slotState(t.state[s]) == stateFilled {
			load++
		}
	}
	return load
}

func (t *Table[K, V]) tryInsertOverflowC(h0 uint64, key K, value V) (InsertResult, bool) {
	hC1 := levelHash(h0, len(t.levels)+2)
	hC2 := levelHash(h0, len(t.levels)+3)
	idxA := t.overflowC.bucketIndex(hC1)
	idxB := t.overflowC.bucketIndex(hC2)

	type candidate struct {
		h   uint64
		idx uint32
	}
	primary, fallback := candidate{hC1, idxA}, candidate{hC2, idxB}
	if t.bucketLoad(t.overflowC, idxB) < t.bucketLoad(t.overflowC, idxA) {
		primary, fallback = fallback, primary
	}

	for _, c := range [2]candidate{primary, fallback} {
		start := t.overflowC.bucketStart(c.idx)
		tombstoneSlot := int64(-1)
		for s := start; s < start+t.overflowC.bucketSize; s++ {
			switch slotState(t.state[s]) {
			case stateEmpty:
				target := s
				wasTombstone := false
				if tombstoneSlot != -1 {
					target = uint32(tombstoneSlot)
					wasTombstone = true
				}
				t.fill(target, c.h, key, value, wasTombstone)
				t.overflowCInserts++
				return Inserted, true
			case stateTombstone:
				if tombstoneSlot == -1 {
					tombstoneSlot = int64(s)
				}
			}
		}
		if tombstoneSlot != -1 {
			t.fill(uint32(tombstoneSlot), c.h, key, value, true)
			t.overflowCInserts++
			return Inserted, true
		}
	}
	return 0, false
}

package funnel

import "github.com/cloudflare/datacore/internal/avalanche"

const maxGrowAttempts = 8

// growAndRebuild doubles the table's capacity and reinserts every filled
// entry from the old storage, retrying with a re-mixed seed up to
// maxGrowAttempts times. On total failure the old storage and counters are
// restored verbatim and the table is left exactly as it was. On success
// the old storage is released back to the allocator.
func (t *Table[K, V]) growAndRebuild() {
	newCapacity := t.capacity * 2
	baseSeed := t.seed
	oldCapacity := t.capacity

	oldLevels, oldOverflowB, oldOverflowC := t.levels, t.overflowB, t.overflowC
	oldState, oldHashes, oldKeys, oldValues := t.state, t.hashes, t.keys, t.values
	oldLength, oldTombstones, oldSeed := t.length, t.tombstones, t.seed
	oldLevelCounts, oldOverflowBInserts, oldOverflowCInserts := t.levelInsertCounts, t.overflowBInserts, t.overflowCInserts

	for attempt := 0; attempt < maxGrowAttempts; attempt++ {
		trySeed := baseSeed
		if attempt > 0 {
			trySeed = avalanche.Mix(baseSeed, uint64(attempt))
		}
		t.seed = trySeed
		if merr := t.buildStorage(newCapacity); merr != MakeOK {
			continue
		}

		ok := true
		for s := range oldState {
			if slotState(oldState[s]) != stateFilled {
				continue
			}
			if t.trySet(oldKeys[s], oldValues[s]) == Failed {
				ok = false
				break
			}
		}
		if ok {
			t.allocator.Free(oldState)
			t.resizeCount++
			return
		}
		// Reinsertion hit a wall partway through: drop the fresh storage
		// we just built (zero-value slices collected by the GC; the
		// allocator-backed state buffer is returned) and retry with a
		// different seed.
		t.allocator.Free(t.state)
	}

	t.levels, t.overflowB, t.overflowC = oldLevels, oldOverflowB, oldOverflowC
	t.state, t.hashes, t.keys, t.values = oldState, oldHashes, oldKeys, oldValues
	t.length, t.tombstones, t.seed = oldLength, oldTombstones, oldSeed
	t.levelInsertCounts, t.overflowBInserts, t.overflowCInserts = oldLevelCounts, oldOverflowBInserts, oldOverflowCInserts
	t.capacity = oldCapacity
}

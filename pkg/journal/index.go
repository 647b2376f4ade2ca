package journal

import (
	"sort"
	"sync"

	"github.com/downfa11-org/go-journal/pkg/types"
)

const DefaultIndexDensity = 100

// SparseIndex remembers the segment position of every density-th record and
// the index of asqn-carrying records at the same points. It is shared by all
// segments of a journal; positions are relative to the segment holding the
// record.
type SparseIndex struct {
	mu        sync.RWMutex
	density   int64
	positions []types.IndexEntry
	asqns     []types.AsqnEntry
}

func NewSparseIndex(density int) *SparseIndex {
	if density <= 0 {
		density = DefaultIndexDensity
	}
	return &SparseIndex{density: int64(density)}
}

func (x *SparseIndex) Density() int {
	return int(x.density)
}

// Index records the position of rec if its index falls on the density.
// Entries at or above rec's index are replaced, which happens when a
// truncated range is written again.
func (x *SparseIndex) Index(rec types.JournalRecord, position int) {
	if rec.Index%x.density != 0 {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.positions = x.positions[:x.countUpTo(rec.Index-1)]
	x.positions = append(x.positions, types.IndexEntry{Index: rec.Index, Position: position})

	if rec.Asqn != types.AsqnIgnore {
		n := len(x.asqns)
		for n > 0 && (x.asqns[n-1].Index >= rec.Index || x.asqns[n-1].Asqn >= rec.Asqn) {
			n--
		}
		x.asqns = append(x.asqns[:n], types.AsqnEntry{Asqn: rec.Asqn, Index: rec.Index})
	}
}

// Lookup returns the entry with the greatest index less than or equal to index.
func (x *SparseIndex) Lookup(index int64) (types.IndexEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	i := x.countUpTo(index)
	if i == 0 {
		return types.IndexEntry{}, false
	}
	return x.positions[i-1], true
}

// LookupAsqn returns the index of the indexed record with the greatest asqn
// less than or equal to asqn.
func (x *SparseIndex) LookupAsqn(asqn int64) (int64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	i := sort.Search(len(x.asqns), func(i int) bool { return x.asqns[i].Asqn > asqn })
	if i == 0 {
		return 0, false
	}
	return x.asqns[i-1].Index, true
}

// DeleteAfter drops every entry for an index greater than index.
func (x *SparseIndex) DeleteAfter(index int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.positions = x.positions[:x.countUpTo(index)]
	n := len(x.asqns)
	for n > 0 && x.asqns[n-1].Index > index {
		n--
	}
	x.asqns = x.asqns[:n]
}

// DeleteUntil keeps the floor entry of index and drops every entry below it,
// so a lookup of index still resolves after compaction.
func (x *SparseIndex) DeleteUntil(index int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	floor := x.countUpTo(index) - 1
	if floor <= 0 {
		return
	}
	keep := x.positions[floor].Index
	x.positions = append([]types.IndexEntry(nil), x.positions[floor:]...)

	i := sort.Search(len(x.asqns), func(i int) bool { return x.asqns[i].Index >= keep })
	x.asqns = append([]types.AsqnEntry(nil), x.asqns[i:]...)
}

func (x *SparseIndex) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.positions = nil
	x.asqns = nil
}

// Size reports the number of position entries.
func (x *SparseIndex) Size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.positions)
}

// countUpTo returns the number of position entries with an index less
// than or equal to index. Callers hold the lock.
func (x *SparseIndex) countUpTo(index int64) int {
	return sort.Search(len(x.positions), func(i int) bool { return x.positions[i].Index > index })
}

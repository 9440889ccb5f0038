package accountant

import (
	"sort"
	"sync"

	"github.com/oxia-db/segaccount/internal/common"
)

// OrderingEntry is one (Lsn, LogID) pair yielded by a snapshot
// iteration.
type OrderingEntry struct {
	LSN    common.Lsn
	Offset common.LogID
}

// ordering is the Lsn -> LogID index used for snapshot iteration and
// locating the highest-LSN segment during recovery (spec.md §4.3).
//
// A plain map plus a sort-on-read is used instead of a third-party
// ordered-map/B-tree package: the only ordered operation needed is a
// full ascending scan taken as an occasional snapshot, which a
// map-then-sort does in a few lines without pulling in a new
// dependency for it. See DESIGN.md.
type ordering struct {
	mu  sync.RWMutex
	idx map[common.Lsn]common.LogID
}

func newOrdering() *ordering {
	return &ordering{idx: make(map[common.Lsn]common.LogID)}
}

// Insert records lsn -> offset. Any prior association for offset's old
// LSN must be removed by the caller first (Accountant.Next does this).
func (o *ordering) Insert(lsn common.Lsn, offset common.LogID) {
	o.mu.Lock()
	o.idx[lsn] = offset
	o.mu.Unlock()
}

func (o *ordering) Remove(lsn common.Lsn) {
	o.mu.Lock()
	delete(o.idx, lsn)
	o.mu.Unlock()
}

func (o *ordering) Get(lsn common.Lsn) (common.LogID, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	v, ok := o.idx[lsn]
	return v, ok
}

// SnapshotFrom returns entries with LSN >= lsn, ascending, as an
// independent copy immune to concurrent mutation of the index -
// mirroring the Rust original's ordering.clone().into_iter().filter(...).
func (o *ordering) SnapshotFrom(lsn common.Lsn) []OrderingEntry {
	o.mu.RLock()
	entries := make([]OrderingEntry, 0, len(o.idx))
	for l, offset := range o.idx {
		if l >= lsn {
			entries = append(entries, OrderingEntry{LSN: l, Offset: offset})
		}
	}
	o.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].LSN < entries[j].LSN })
	return entries
}

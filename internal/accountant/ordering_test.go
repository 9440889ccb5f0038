package accountant

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oxia-db/segaccount/internal/common"
)

func TestOrderingInsertRemoveAndSnapshot(t *testing.T) {
	o := newOrdering()
	o.Insert(10, 100)
	o.Insert(20, 200)
	o.Insert(30, 300)

	offset, ok := o.Get(20)
	require.True(t, ok)
	require.Equal(t, common.LogID(200), offset)

	o.Remove(20)
	_, ok = o.Get(20)
	require.False(t, ok)

	entries := o.SnapshotFrom(0)
	require.Equal(t, []OrderingEntry{{LSN: 10, Offset: 100}, {LSN: 30, Offset: 300}}, entries)
}

func TestOrderingSnapshotFromFiltersBelowFloor(t *testing.T) {
	o := newOrdering()
	o.Insert(0, 0)
	o.Insert(10, 10)
	o.Insert(20, 20)

	entries := o.SnapshotFrom(15)
	require.Equal(t, []OrderingEntry{{LSN: 20, Offset: 20}}, entries)
}

func TestOrderingSnapshotIsIndependentCopy(t *testing.T) {
	o := newOrdering()
	o.Insert(0, 0)

	entries := o.SnapshotFrom(0)
	o.Insert(10, 10)

	require.Len(t, entries, 1, "snapshot must not observe later mutations")
}

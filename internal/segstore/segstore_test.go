package segstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oxia-db/segaccount/internal/common"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(Options{Dir: "segs", SegmentSize: 64, InMemory: true})
	require.NoError(t, err)
	return store
}

func TestReadSegmentMissingReturnsErrNoSuchSegment(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ReadSegment(0)
	require.ErrorIs(t, err, ErrNoSuchSegment)
}

func TestWriteThenReadHeaderAndRecords(t *testing.T) {
	store := newTestStore(t)

	w, err := store.CreateSegment(0, 42)
	require.NoError(t, err)
	w.AppendZeroed(3)
	w.AppendFlush(12, []byte("hello"))
	require.NoError(t, w.Close())

	reader, err := store.ReadSegment(0)
	require.NoError(t, err)
	require.Equal(t, common.Lsn(42), reader.Header().LSN)
	require.Equal(t, common.LogID(0), reader.Header().Position)
	require.EqualValues(t, HeaderLen, reader.Header().ReadOffset)

	rec, ok := reader.Next()
	require.True(t, ok)
	require.Equal(t, RecordZeroed, rec.Kind)
	require.EqualValues(t, 3, rec.Len)

	rec, ok = reader.Next()
	require.True(t, ok)
	require.Equal(t, RecordFlush, rec.Kind)
	require.Equal(t, common.Lsn(12), rec.LSN)
	require.EqualValues(t, 5, rec.Len)

	_, ok = reader.Next()
	require.False(t, ok)
}

func TestAppendCorruptedTerminatesStream(t *testing.T) {
	store := newTestStore(t)

	w, err := store.CreateSegment(0, 0)
	require.NoError(t, err)
	w.AppendCorrupted()
	require.NoError(t, w.Close())

	reader, err := store.ReadSegment(0)
	require.NoError(t, err)

	rec, ok := reader.Next()
	require.True(t, ok)
	require.Equal(t, RecordCorrupted, rec.Kind)

	_, ok = reader.Next()
	require.False(t, ok)
}

package heap

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ignacio-DiLeva/pagedb/src/bufferpool"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
	"github.com/Ignacio-DiLeva/pagedb/src/recovery"
	"github.com/Ignacio-DiLeva/pagedb/src/storage/disk"
)

func newTestSegment(t *testing.T) (*Segment, *recovery.LogManager, *bufferpool.Manager) {
	t.Helper()

	fs := afero.NewMemMapFs()

	pool := bufferpool.New(16, bufferpool.NewLRUReplacer(), disk.NewManager(fs, "data"))

	walFile, err := disk.OpenBlockFile(fs, "wal.log")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, walFile.Close()) })

	wal := recovery.NewLogManager(walFile, zap.NewNop().Sugar())

	return NewSegment(42, wal, pool), wal, pool
}

func TestAllocateWriteRead(t *testing.T) {
	segment, wal, _ := newTestSegment(t)

	require.NoError(t, wal.Begin(1))

	tid, err := segment.Allocate(16)
	require.NoError(t, err)
	assert.Equal(t, common.NewTID(0, 0), tid)
	assert.Equal(t, uint64(1), segment.PageCount())

	tuple := bytes.Repeat([]byte{0x5a}, 16)
	require.NoError(t, segment.Write(tid, tuple, 1))

	got, err := segment.Read(tid)
	require.NoError(t, err)
	assert.Equal(t, tuple, got)
}

func TestWriteAppendsUpdateRecordBeforeMutation(t *testing.T) {
	segment, wal, _ := newTestSegment(t)

	require.NoError(t, wal.Begin(1))

	tid, err := segment.Allocate(16)
	require.NoError(t, err)

	require.Zero(t, wal.TotalRecordsOfType(recovery.RecordUpdate))

	require.NoError(t, segment.Write(tid, make([]byte, 16), 1))
	assert.Equal(t, uint64(1), wal.TotalRecordsOfType(recovery.RecordUpdate))

	require.NoError(t, segment.Write(tid, bytes.Repeat([]byte{1}, 16), 1))
	assert.Equal(t, uint64(2), wal.TotalRecordsOfType(recovery.RecordUpdate))
}

func TestAllocateGrowsToNewPage(t *testing.T) {
	segment, wal, _ := newTestSegment(t)

	require.NoError(t, wal.Begin(1))

	// each tuple takes its bytes plus one directory entry
	perPage := (disk.PageSize - pageHeaderSize) / (16 + slotEntrySize)

	for i := 0; i < perPage; i++ {
		tid, err := segment.Allocate(16)
		require.NoError(t, err)
		require.Equal(t, common.PageNo(0), tid.PageNo())
	}

	require.Equal(t, uint64(1), segment.PageCount())

	tid, err := segment.Allocate(16)
	require.NoError(t, err)
	assert.Equal(t, common.PageNo(1), tid.PageNo())
	assert.Equal(t, uint16(0), tid.Slot())
	assert.Equal(t, uint64(2), segment.PageCount())
}

func TestScanVisitsAllTuples(t *testing.T) {
	segment, wal, _ := newTestSegment(t)

	require.NoError(t, wal.Begin(1))

	want := map[common.TID][]byte{}
	for i := byte(0); i < 10; i++ {
		tid, err := segment.Allocate(16)
		require.NoError(t, err)

		tuple := bytes.Repeat([]byte{i + 1}, 16)
		require.NoError(t, segment.Write(tid, tuple, 1))
		want[tid] = tuple
	}

	got := map[common.TID][]byte{}
	require.NoError(t, segment.Scan(func(tid common.TID, tuple []byte) bool {
		got[tid] = bytes.Clone(tuple)
		return true
	}))

	assert.Equal(t, want, got)
}

func TestScanStopsWhenCallbackReturnsFalse(t *testing.T) {
	segment, wal, _ := newTestSegment(t)

	require.NoError(t, wal.Begin(1))

	for i := 0; i < 5; i++ {
		tid, err := segment.Allocate(16)
		require.NoError(t, err)
		require.NoError(t, segment.Write(tid, make([]byte, 16), 1))
	}

	seen := 0
	require.NoError(t, segment.Scan(func(common.TID, []byte) bool {
		seen++
		return seen < 3
	}))

	assert.Equal(t, 3, seen)
}

func TestOpenSegmentKeepsAllocatingAfterExistingPages(t *testing.T) {
	segment, wal, pool := newTestSegment(t)

	require.NoError(t, wal.Begin(1))

	tid, err := segment.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, segment.Write(tid, bytes.Repeat([]byte{7}, 16), 1))
	require.NoError(t, pool.FlushAllPages())

	reopened := OpenSegment(42, segment.PageCount(), wal, pool)
	require.Equal(t, uint64(1), reopened.PageCount())

	tid2, err := reopened.Allocate(16)
	require.NoError(t, err)
	assert.Equal(t, common.NewTID(0, 1), tid2)

	got, err := reopened.Read(tid)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{7}, 16), got)
}

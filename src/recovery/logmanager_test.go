package recovery

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ignacio-DiLeva/pagedb/src/bufferpool"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
	"github.com/Ignacio-DiLeva/pagedb/src/storage/disk"
)

func newTestLogManager(t *testing.T) (*LogManager, *bufferpool.Manager) {
	t.Helper()

	fs := afero.NewMemMapFs()

	pool := bufferpool.New(16, bufferpool.NewLRUReplacer(), disk.NewManager(fs, "data"))

	f, err := disk.OpenBlockFile(fs, "wal.log")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, f.Close()) })

	return NewLogManager(f, zap.NewNop().Sugar()), pool
}

func writeTuple(t *testing.T, pool *bufferpool.Manager, pageID common.PageID, offset uint64, data []byte) {
	t.Helper()

	frame, err := pool.FixPage(pageID, true)
	require.NoError(t, err)

	copy(frame.Data()[offset:offset+uint64(len(data))], data)

	pool.UnfixPage(frame, true)
}

func readTuple(t *testing.T, pool *bufferpool.Manager, pageID common.PageID, offset, length uint64) []byte {
	t.Helper()

	frame, err := pool.FixPage(pageID, false)
	require.NoError(t, err)

	out := make([]byte, length)
	copy(out, frame.Data()[offset:offset+length])

	pool.UnfixPage(frame, false)

	return out
}

func TestCountersAndOffsetTrackEveryAppend(t *testing.T) {
	lm, pool := newTestLogManager(t)

	require.NoError(t, lm.Begin(1))
	assert.Equal(t, uint64(txnRecordSize), lm.CurrentOffset())

	img := bytes.Repeat([]byte{0xab}, 16)
	require.NoError(t, lm.Update(1, common.NewPageID(9, 0), 16, 100, make([]byte, 16), img))
	require.NoError(t, lm.Commit(1))

	require.NoError(t, lm.Begin(2))
	require.NoError(t, lm.Abort(2, pool))

	require.NoError(t, lm.Checkpoint(pool))

	_, err := lm.FuzzyCheckpointBegin(pool)
	require.NoError(t, err)
	require.NoError(t, lm.FuzzyCheckpointEnd())

	assert.Equal(t, uint64(1), lm.TotalRecordsOfType(RecordUpdate))
	assert.Equal(t, uint64(2), lm.TotalRecordsOfType(RecordBegin))
	assert.Equal(t, uint64(1), lm.TotalRecordsOfType(RecordCommit))
	assert.Equal(t, uint64(1), lm.TotalRecordsOfType(RecordAbort))
	assert.Equal(t, uint64(1), lm.TotalRecordsOfType(RecordCheckpoint))
	assert.Equal(t, uint64(1), lm.TotalRecordsOfType(RecordFuzzyCheckpointBegin))
	assert.Equal(t, uint64(1), lm.TotalRecordsOfType(RecordFuzzyCheckpointEnd))
	assert.Equal(t, uint64(8), lm.TotalRecords())
}

func TestBeginTracksActiveTransactions(t *testing.T) {
	lm, pool := newTestLogManager(t)

	require.NoError(t, lm.Begin(1))
	require.NoError(t, lm.Begin(2))
	assert.Equal(t, 2, lm.ActiveTxns())

	require.NoError(t, lm.Commit(1))
	assert.Equal(t, 1, lm.ActiveTxns())

	require.NoError(t, lm.Abort(2, pool))
	assert.Equal(t, 0, lm.ActiveTxns())
}

func TestAbortUndoesBufferedWrites(t *testing.T) {
	lm, pool := newTestLogManager(t)

	pageID := common.NewPageID(5, 0)
	before := readTuple(t, pool, pageID, 64, 8)
	after := []byte("ABCDEFGH")

	require.NoError(t, lm.Begin(1))
	require.NoError(t, lm.Update(1, pageID, 8, 64, before, after))
	writeTuple(t, pool, pageID, 64, after)

	require.Equal(t, after, readTuple(t, pool, pageID, 64, 8))

	require.NoError(t, lm.Abort(1, pool))

	assert.Equal(t, before, readTuple(t, pool, pageID, 64, 8))
}

// Overlapping writes of one transaction have to unwind to the earliest
// pre-state, which is why the before images are applied in reverse.
func TestRollbackRestoresEarliestPreState(t *testing.T) {
	lm, pool := newTestLogManager(t)

	pageID := common.NewPageID(5, 0)

	v0 := readTuple(t, pool, pageID, 0, 8)
	v1 := []byte("11111111")
	v2 := []byte("22222222")

	require.NoError(t, lm.Begin(1))

	require.NoError(t, lm.Update(1, pageID, 8, 0, v0, v1))
	writeTuple(t, pool, pageID, 0, v1)

	require.NoError(t, lm.Update(1, pageID, 8, 0, v1, v2))
	writeTuple(t, pool, pageID, 0, v2)

	require.NoError(t, lm.Abort(1, pool))

	assert.Equal(t, v0, readTuple(t, pool, pageID, 0, 8))
}

func TestRollbackSkipsOtherTransactions(t *testing.T) {
	lm, pool := newTestLogManager(t)

	pageID := common.NewPageID(5, 0)

	mine := []byte("mine....")
	theirs := []byte("theirs..")

	require.NoError(t, lm.Begin(1))
	require.NoError(t, lm.Begin(2))

	require.NoError(t, lm.Update(1, pageID, 8, 0, make([]byte, 8), mine))
	writeTuple(t, pool, pageID, 0, mine)

	require.NoError(t, lm.Update(2, pageID, 8, 8, make([]byte, 8), theirs))
	writeTuple(t, pool, pageID, 8, theirs)

	require.NoError(t, lm.Abort(1, pool))

	assert.Equal(t, make([]byte, 8), readTuple(t, pool, pageID, 0, 8))
	assert.Equal(t, theirs, readTuple(t, pool, pageID, 8, 8))
}

func TestRollbackOfFinishedTxnIsNoop(t *testing.T) {
	lm, pool := newTestLogManager(t)

	require.NoError(t, lm.Begin(1))
	require.NoError(t, lm.Commit(1))

	require.NoError(t, lm.RollbackTxn(1, pool))
	require.NoError(t, lm.RollbackTxn(77, pool))
}

func TestFuzzyCheckpointSnapshotsDirtyPages(t *testing.T) {
	lm, pool := newTestLogManager(t)

	writeTuple(t, pool, common.NewPageID(5, 0), 0, []byte("x"))
	writeTuple(t, pool, common.NewPageID(5, 1), 0, []byte("y"))

	n, err := lm.FuzzyCheckpointBegin(pool)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// dirtying another page after begin must not grow the snapshot
	writeTuple(t, pool, common.NewPageID(6, 0), 0, []byte("z"))

	require.NoError(t, lm.FuzzyCheckpointDoStep(pool, 0))
	require.NoError(t, lm.FuzzyCheckpointDoStep(pool, 1))
	// out-of-range steps are no-ops
	require.NoError(t, lm.FuzzyCheckpointDoStep(pool, 2))
	require.NoError(t, lm.FuzzyCheckpointDoStep(pool, 100))

	require.NoError(t, lm.FuzzyCheckpointEnd())

	assert.Equal(t, []common.PageID{common.NewPageID(6, 0)}, pool.GetDirtyPageIDs())
}

func TestQuiescentCheckpointFlushesEverything(t *testing.T) {
	lm, pool := newTestLogManager(t)

	writeTuple(t, pool, common.NewPageID(5, 0), 0, []byte("x"))
	writeTuple(t, pool, common.NewPageID(5, 1), 0, []byte("y"))

	require.NoError(t, lm.Checkpoint(pool))

	assert.Empty(t, pool.GetDirtyPageIDs())
	assert.Equal(t, uint64(1), lm.TotalRecordsOfType(RecordCheckpoint))
}

func TestResetClearsState(t *testing.T) {
	lm, pool := newTestLogManager(t)

	require.NoError(t, lm.Begin(1))
	require.NoError(t, lm.Commit(1))

	_, err := lm.FuzzyCheckpointBegin(pool)
	require.NoError(t, err)

	f, err := disk.OpenBlockFile(afero.NewMemMapFs(), "wal2.log")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, f.Close()) })

	lm.Reset(f)

	assert.Zero(t, lm.TotalRecords())
	assert.Zero(t, lm.CurrentOffset())
	assert.Zero(t, lm.ActiveTxns())
}

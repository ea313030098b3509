package recovery

import (
	"fmt"

	"github.com/Ignacio-DiLeva/pagedb/src"
	"github.com/Ignacio-DiLeva/pagedb/src/bufferpool"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/assert"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
	"github.com/Ignacio-DiLeva/pagedb/src/storage/disk"
)

// LogManager owns the write-ahead log tape: it appends records, tracks which
// transactions are still active, and drives rollback, checkpointing and crash
// recovery. It holds a non-owning reference to the log file; the buffer
// manager is passed in per call.
//
// Callers serialize access. The log manager performs no locking of its own.
type LogManager struct {
	file disk.BlockFile
	log  src.Logger

	// byte index of the next append; equals file.Size() after every append
	currentOffset uint64

	// active txn -> total record count at the moment its BEGIN was appended.
	// Presence alone marks a transaction as active; the ordinal is kept for
	// diagnostics.
	txnFirstRecord map[common.TxnID]uint64

	typeCounts map[RecordType]uint64

	// page ids snapshotted at BEGIN_FUZZY_CHECKPOINT, flushed one per step
	fuzzyPending []common.PageID
}

func NewLogManager(file disk.BlockFile, log src.Logger) *LogManager {
	lm := &LogManager{
		file: file,
		log:  log,
	}
	lm.clearState()

	return lm
}

func (lm *LogManager) clearState() {
	lm.currentOffset = 0
	lm.txnFirstRecord = make(map[common.TxnID]uint64)
	lm.fuzzyPending = nil

	lm.typeCounts = make(map[RecordType]uint64, len(recordTypes))
	for _, t := range recordTypes {
		lm.typeCounts[t] = 0
	}
}

// Reset rebinds the manager to a freshly opened log file and drops all
// in-memory state. Simulates a crash-restart; Recover is expected next.
func (lm *LogManager) Reset(file disk.BlockFile) {
	lm.file = file
	lm.clearState()
}

func (lm *LogManager) TotalRecords() uint64 {
	var total uint64
	for _, t := range recordTypes {
		total += lm.typeCounts[t]
	}

	return total
}

func (lm *LogManager) TotalRecordsOfType(t RecordType) uint64 {
	return lm.typeCounts[t]
}

// CurrentOffset reports the byte position of the next append.
func (lm *LogManager) CurrentOffset() uint64 {
	return lm.currentOffset
}

// ActiveTxns reports how many transactions are in the active index: those
// with a BEGIN but no COMMIT/ABORT, plus, after Recover, the transactions
// whose ABORT was replayed.
func (lm *LogManager) ActiveTxns() int {
	return len(lm.txnFirstRecord)
}

// Begin appends a BEGIN record and registers the transaction as active,
// remembering the pre-append record ordinal.
func (lm *LogManager) Begin(txnID common.TxnID) error {
	if err := appendTxnRecord(lm.file, lm.currentOffset, RecordBegin, txnID); err != nil {
		return fmt.Errorf("append BEGIN for txn %d: %w", txnID, err)
	}

	lm.currentOffset += txnRecordSize

	totalRecords := lm.TotalRecords()
	lm.typeCounts[RecordBegin]++
	lm.txnFirstRecord[txnID] = totalRecords
	lm.assertOffsetInvariant()

	lm.log.Debugw("appended log record", "type", RecordBegin, "txn", txnID)

	return nil
}

// Commit appends a COMMIT record and deactivates the transaction. No page is
// forced here; durability of committed data rests on the transaction
// manager's write-back, since recovery does not redo committed updates.
func (lm *LogManager) Commit(txnID common.TxnID) error {
	if err := appendTxnRecord(lm.file, lm.currentOffset, RecordCommit, txnID); err != nil {
		return fmt.Errorf("append COMMIT for txn %d: %w", txnID, err)
	}

	lm.currentOffset += txnRecordSize
	lm.typeCounts[RecordCommit]++
	delete(lm.txnFirstRecord, txnID)
	lm.assertOffsetInvariant()

	lm.log.Debugw("appended log record", "type", RecordCommit, "txn", txnID)

	return nil
}

// Abort appends an ABORT record, rolls the transaction back through the
// buffer manager, and deactivates it. The ABORT record is on the tape before
// rollback starts, so the rollback scan stops at it.
func (lm *LogManager) Abort(txnID common.TxnID, pool bufferpool.BufferManager) error {
	if err := appendTxnRecord(lm.file, lm.currentOffset, RecordAbort, txnID); err != nil {
		return fmt.Errorf("append ABORT for txn %d: %w", txnID, err)
	}

	lm.currentOffset += txnRecordSize
	lm.typeCounts[RecordAbort]++
	lm.assertOffsetInvariant()

	lm.log.Debugw("appended log record", "type", RecordAbort, "txn", txnID)

	if err := lm.RollbackTxn(txnID, pool); err != nil {
		return err
	}

	delete(lm.txnFirstRecord, txnID)

	return nil
}

// Update appends an UPDATE record carrying the before and after images of
// [offset, offset+length) on the page. Callers append BEFORE mutating the
// page, so a stolen page can never reach disk without its log record.
func (lm *LogManager) Update(
	txnID common.TxnID,
	pageID common.PageID,
	length uint64,
	offset uint64,
	beforeImg []byte,
	afterImg []byte,
) error {
	u := updateInfo{
		txnID:     txnID,
		pageID:    pageID,
		length:    length,
		offset:    offset,
		beforeImg: beforeImg,
		afterImg:  afterImg,
	}

	if err := appendUpdateRecord(lm.file, lm.currentOffset, u); err != nil {
		return fmt.Errorf("append UPDATE for txn %d: %w", txnID, err)
	}

	lm.currentOffset += updateRecordSize(length)
	lm.typeCounts[RecordUpdate]++
	lm.assertOffsetInvariant()

	lm.log.Debugw(
		"appended log record",
		"type", RecordUpdate, "txn", txnID, "page", pageID,
		"offset", offset, "length", length,
	)

	return nil
}

// Checkpoint takes a quiescent checkpoint: every dirty page is durable
// before the CHECKPOINT record hits the tape, so recovery may discard all
// earlier updates.
func (lm *LogManager) Checkpoint(pool bufferpool.BufferManager) error {
	if err := pool.FlushAllPages(); err != nil {
		return fmt.Errorf("checkpoint flush: %w", err)
	}

	if err := appendBareRecord(lm.file, lm.currentOffset, RecordCheckpoint); err != nil {
		return fmt.Errorf("append CHECKPOINT: %w", err)
	}

	lm.currentOffset += bareRecordSize
	lm.typeCounts[RecordCheckpoint]++
	lm.assertOffsetInvariant()

	lm.log.Infow("quiescent checkpoint", "offset", lm.currentOffset)

	return nil
}

// FuzzyCheckpointBegin snapshots the dirty page set and appends the
// BEGIN_FUZZY_CHECKPOINT record. Returns the number of pages the caller has
// to flush via FuzzyCheckpointDoStep while the log keeps growing.
func (lm *LogManager) FuzzyCheckpointBegin(pool bufferpool.BufferManager) (int, error) {
	lm.fuzzyPending = pool.GetDirtyPageIDs()

	if err := appendBareRecord(lm.file, lm.currentOffset, RecordFuzzyCheckpointBegin); err != nil {
		return 0, fmt.Errorf("append BEGIN_FUZZY_CHECKPOINT: %w", err)
	}

	lm.currentOffset += bareRecordSize
	lm.typeCounts[RecordFuzzyCheckpointBegin]++
	lm.assertOffsetInvariant()

	lm.log.Infow("fuzzy checkpoint started", "dirtyPages", len(lm.fuzzyPending))

	return len(lm.fuzzyPending), nil
}

// FuzzyCheckpointDoStep flushes the step-th snapshotted page. Steps out of
// range are no-ops. No log record is written per step.
func (lm *LogManager) FuzzyCheckpointDoStep(pool bufferpool.BufferManager, step int) error {
	if step < 0 || step >= len(lm.fuzzyPending) {
		return nil
	}

	return pool.FlushPage(lm.fuzzyPending[step])
}

// FuzzyCheckpointEnd appends END_FUZZY_CHECKPOINT and drops the snapshot.
func (lm *LogManager) FuzzyCheckpointEnd() error {
	if err := appendBareRecord(lm.file, lm.currentOffset, RecordFuzzyCheckpointEnd); err != nil {
		return fmt.Errorf("append END_FUZZY_CHECKPOINT: %w", err)
	}

	lm.currentOffset += bareRecordSize
	lm.typeCounts[RecordFuzzyCheckpointEnd]++
	lm.fuzzyPending = nil
	lm.assertOffsetInvariant()

	lm.log.Infow("fuzzy checkpoint finished", "offset", lm.currentOffset)

	return nil
}

func (lm *LogManager) assertOffsetInvariant() {
	assert.Assert(
		lm.currentOffset == lm.file.Size(),
		"log offset %d out of sync with file size %d",
		lm.currentOffset, lm.file.Size(),
	)
}

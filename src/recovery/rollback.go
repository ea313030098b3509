package recovery

import (
	"fmt"

	"github.com/Ignacio-DiLeva/pagedb/src/bufferpool"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
)

// RollbackTxn undoes every UPDATE of the transaction by re-applying before
// images in reverse append order. Reverse order matters: when the
// transaction wrote the same byte range twice, the page has to end up at the
// earliest pre-state.
//
// A transaction that is no longer active (committed or already aborted) is a
// no-op.
func (lm *LogManager) RollbackTxn(txnID common.TxnID, pool bufferpool.BufferManager) error {
	if _, active := lm.txnFirstRecord[txnID]; !active {
		return nil
	}

	updates, err := lm.collectTxnUpdates(txnID)
	if err != nil {
		return fmt.Errorf("rollback of txn %d: %w", txnID, err)
	}

	for i := len(updates) - 1; i >= 0; i-- {
		if err := lm.applyImage(pool, updates[i], updates[i].beforeImg); err != nil {
			return fmt.Errorf("rollback of txn %d: %w", txnID, err)
		}
	}

	lm.log.Debugw("rolled back transaction", "txn", txnID, "undoneUpdates", len(updates))

	return nil
}

// collectTxnUpdates forward-scans the tape and gathers the transaction's
// UPDATE records. The scan stops at the transaction's own ABORT record (when
// rollback runs inside Abort, that record is the last one appended), at an
// invalid tag, or at the end of the log.
func (lm *LogManager) collectTxnUpdates(txnID common.TxnID) ([]updateInfo, error) {
	var updates []updateInfo

	offset := uint64(0)
	for offset < lm.currentOffset {
		tag, err := readTag(lm.file, offset)
		if err != nil {
			return nil, err
		}

		switch tag {
		case RecordInvalid:
			return updates, nil

		case RecordCheckpoint, RecordFuzzyCheckpointBegin, RecordFuzzyCheckpointEnd:
			offset += bareRecordSize

		case RecordBegin, RecordCommit:
			offset += txnRecordSize

		case RecordAbort:
			recordTxn, err := readTxnID(lm.file, offset)
			if err != nil {
				return nil, err
			}

			offset += txnRecordSize

			if recordTxn == txnID {
				return updates, nil
			}

		case RecordUpdate:
			recordTxn, err := readTxnID(lm.file, offset)
			if err != nil {
				return nil, err
			}

			if recordTxn == txnID {
				u, err := readUpdateRecord(lm.file, offset)
				if err != nil {
					return nil, err
				}

				updates = append(updates, u)
				offset += updateRecordSize(u.length)
			} else {
				length, err := readUpdateLength(lm.file, offset)
				if err != nil {
					return nil, err
				}

				offset += updateRecordSize(length)
			}

		default:
			return nil, fmt.Errorf("%w: unknown tag %d at offset %d", ErrCorruptRecord, tag, offset)
		}
	}

	return updates, nil
}

// applyImage writes img over [offset, offset+length) of the update's page.
func (lm *LogManager) applyImage(pool bufferpool.BufferManager, u updateInfo, img []byte) error {
	frame, err := pool.FixPage(u.pageID, true)
	if err != nil {
		return fmt.Errorf("fix page %d: %w", u.pageID, err)
	}

	copy(frame.Data()[u.offset:u.offset+u.length], img)

	pool.UnfixPage(frame, true)

	return nil
}

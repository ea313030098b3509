package recovery

import (
	"fmt"
	"sort"

	"github.com/Ignacio-DiLeva/pagedb/src/bufferpool"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
)

// sortedTxnIDs returns the keys of the given map in ascending order.
func sortedTxnIDs[V any](m map[common.TxnID]V) []common.TxnID {
	ids := make([]common.TxnID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

// Recover rebuilds consistent state from the log after a crash. The buffer
// cache is assumed empty; pages fault in from the heap and get patched.
//
// Three phases over one forward scan plus two apply passes:
//
//   - analysis: rebuild the active-transaction index and the counters, note
//     explicitly aborted transactions, and collect the updates that may still
//     need redo (everything after the last durable boundary, plus the window
//     of an unfinished fuzzy checkpoint);
//   - redo: re-apply after images, but only for transactions that explicitly
//     aborted before the crash — their pre-crash rollback may have been
//     partially lost to stolen page writes, and re-applying makes the
//     following undo land on known state. Committed transactions are durable
//     through the commit-time write-back and need no replay; open ones get
//     undone anyway;
//   - undo: roll back the aborted transactions, then the ones still open at
//     the crash.
func (lm *LogManager) Recover(pool bufferpool.BufferManager) error {
	lm.clearState()
	lm.currentOffset = lm.file.Size()

	lm.log.Infow("recovery started", "logSize", lm.currentOffset)

	redoSet, abortedTxns, err := lm.analyze()
	if err != nil {
		return fmt.Errorf("recovery analysis: %w", err)
	}

	lm.log.Infow(
		"recovery analysis finished",
		"records", lm.TotalRecords(),
		"openTxns", len(lm.txnFirstRecord),
		"abortedTxns", len(abortedTxns),
		"redoCandidates", len(redoSet),
	)

	if err := lm.redo(pool, redoSet, abortedTxns); err != nil {
		return fmt.Errorf("recovery redo: %w", err)
	}

	if err := lm.undo(pool, abortedTxns); err != nil {
		return fmt.Errorf("recovery undo: %w", err)
	}

	lm.log.Infow("recovery finished", "activeTxns", len(lm.txnFirstRecord))

	return nil
}

// analyze walks the whole tape once. It returns the redo set (updates past
// the last durable boundary, in append order) and the set of explicitly
// aborted transactions.
//
// Aborted transactions stay in txnFirstRecord on purpose: presence there plus
// membership in abortedTxns is what later separates "explicitly aborted"
// from "still open at crash".
func (lm *LogManager) analyze() ([]updateInfo, map[common.TxnID]struct{}, error) {
	// pending carries the updates that span an unfinished fuzzy-checkpoint
	// window; sinceLastCheckpoint the ones after the last durable boundary.
	var pending []updateInfo
	var sinceLastCheckpoint []updateInfo

	abortedTxns := make(map[common.TxnID]struct{})

	offset := uint64(0)
scan:
	for offset < lm.currentOffset {
		tag, err := readTag(lm.file, offset)
		if err != nil {
			return nil, nil, err
		}

		switch tag {
		case RecordInvalid:
			break scan

		case RecordCheckpoint:
			// all earlier updates are durable
			offset += bareRecordSize
			lm.typeCounts[RecordCheckpoint]++
			pending = nil
			sinceLastCheckpoint = nil

		case RecordFuzzyCheckpointBegin:
			// the pages behind these updates may still be dirty; they must be
			// redone unless an END record shows up later
			offset += bareRecordSize
			lm.typeCounts[RecordFuzzyCheckpointBegin]++
			pending = sinceLastCheckpoint
			sinceLastCheckpoint = nil

		case RecordFuzzyCheckpointEnd:
			offset += bareRecordSize
			lm.typeCounts[RecordFuzzyCheckpointEnd]++
			pending = nil

		case RecordBegin:
			txnID, err := readTxnID(lm.file, offset)
			if err != nil {
				return nil, nil, err
			}

			offset += txnRecordSize
			lm.txnFirstRecord[txnID] = lm.TotalRecords()
			lm.typeCounts[RecordBegin]++

		case RecordCommit:
			txnID, err := readTxnID(lm.file, offset)
			if err != nil {
				return nil, nil, err
			}

			offset += txnRecordSize
			delete(lm.txnFirstRecord, txnID)
			lm.typeCounts[RecordCommit]++

		case RecordAbort:
			txnID, err := readTxnID(lm.file, offset)
			if err != nil {
				return nil, nil, err
			}

			offset += txnRecordSize
			abortedTxns[txnID] = struct{}{}
			lm.typeCounts[RecordAbort]++

		case RecordUpdate:
			u, err := readUpdateRecord(lm.file, offset)
			if err != nil {
				return nil, nil, err
			}

			offset += updateRecordSize(u.length)
			sinceLastCheckpoint = append(sinceLastCheckpoint, u)
			lm.typeCounts[RecordUpdate]++

		default:
			return nil, nil, fmt.Errorf(
				"%w: unknown tag %d at offset %d",
				ErrCorruptRecord, tag, offset,
			)
		}
	}

	// an unterminated fuzzy checkpoint never became durable: its window still
	// needs redo, ahead of everything that followed
	if len(pending) > 0 {
		return append(pending, sinceLastCheckpoint...), abortedTxns, nil
	}

	return sinceLastCheckpoint, abortedTxns, nil
}

// redo re-applies after images of aborted transactions, in append order.
func (lm *LogManager) redo(
	pool bufferpool.BufferManager,
	redoSet []updateInfo,
	abortedTxns map[common.TxnID]struct{},
) error {
	for _, u := range redoSet {
		if _, aborted := abortedTxns[u.txnID]; !aborted {
			continue
		}

		if err := lm.applyImage(pool, u, u.afterImg); err != nil {
			return err
		}
	}

	return nil
}

// undo rolls back the aborted transactions first, then every transaction
// still open at the crash, each group in ascending id order so overlapping
// writes resolve deterministically.
func (lm *LogManager) undo(
	pool bufferpool.BufferManager,
	abortedTxns map[common.TxnID]struct{},
) error {
	for _, txnID := range sortedTxnIDs(abortedTxns) {
		if err := lm.RollbackTxn(txnID, pool); err != nil {
			return err
		}
	}

	for _, txnID := range sortedTxnIDs(lm.txnFirstRecord) {
		if _, aborted := abortedTxns[txnID]; aborted {
			continue
		}

		if err := lm.RollbackTxn(txnID, pool); err != nil {
			return err
		}
	}

	return nil
}

package txns

import (
	"fmt"
	"slices"

	"github.com/Ignacio-DiLeva/pagedb/src/bufferpool"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
	"github.com/Ignacio-DiLeva/pagedb/src/recovery"
)

// Manager brackets transactions: it hands out ids, forwards begin/commit/
// abort to the log manager, and remembers which pages each transaction
// touched.
//
// On commit the touched pages are written through to disk after the COMMIT
// record is on the tape. The write-back deliberately leaves the pages marked
// dirty, so a later fuzzy-checkpoint snapshot still sees them; recovery
// relies on aborted-transaction redo plus this write-back instead of
// replaying committed work.
type Manager struct {
	wal  *recovery.LogManager
	pool bufferpool.BufferManager

	nextTxnID common.TxnID

	modified map[common.TxnID][]common.PageID
}

func NewManager(wal *recovery.LogManager, pool bufferpool.BufferManager) *Manager {
	return &Manager{
		wal:      wal,
		pool:     pool,
		modified: make(map[common.TxnID][]common.PageID),
	}
}

// Begin starts a new transaction and logs its BEGIN record.
func (m *Manager) Begin() (common.TxnID, error) {
	m.nextTxnID++
	txnID := m.nextTxnID

	if err := m.wal.Begin(txnID); err != nil {
		return 0, fmt.Errorf("begin txn: %w", err)
	}

	return txnID, nil
}

// AddModifiedPage records that the transaction touched the page. Duplicates
// are dropped; the first-touch order is kept for the commit write-back.
func (m *Manager) AddModifiedPage(txnID common.TxnID, pageID common.PageID) {
	pages := m.modified[txnID]
	if slices.Contains(pages, pageID) {
		return
	}

	m.modified[txnID] = append(pages, pageID)
}

// Commit logs the COMMIT record, then writes the transaction's pages through
// to disk.
func (m *Manager) Commit(txnID common.TxnID) error {
	if err := m.wal.Commit(txnID); err != nil {
		return fmt.Errorf("commit txn %d: %w", txnID, err)
	}

	for _, pageID := range m.modified[txnID] {
		if err := m.pool.WriteThrough(pageID); err != nil {
			return fmt.Errorf("commit txn %d: %w", txnID, err)
		}
	}

	delete(m.modified, txnID)

	return nil
}

// Abort logs the ABORT record and rolls the transaction back through the
// buffer manager.
func (m *Manager) Abort(txnID common.TxnID) error {
	if err := m.wal.Abort(txnID, m.pool); err != nil {
		return fmt.Errorf("abort txn %d: %w", txnID, err)
	}

	delete(m.modified, txnID)

	return nil
}

// Reset rebinds the manager after a crash-restart. Transaction ids keep
// counting up; modified-page tracking of pre-crash transactions is gone, as
// is the buffer cache it referred to.
func (m *Manager) Reset(wal *recovery.LogManager) {
	m.wal = wal
	m.modified = make(map[common.TxnID][]common.PageID)
}

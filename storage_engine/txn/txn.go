// Package txn implements the transaction manager: issues
// transaction ids, tracks modified pages, and coordinates commit
// (flush) vs abort (discard + compensating log), adapted from
// DaemonDB's atomic-counter + map-of-transactions structuring idiom
// but simplified back to spec.md's modified-pages-vector + log-driven
// UNDO model (DaemonDB's own version tracks per-row MVCC undo state,
// richer than this spec needs).
package txn

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"buzzdb/storage_engine/buffer"
	"buzzdb/storage_engine/buzzdberr"
	"buzzdb/storage_engine/page"
)

// LogManager is the narrow slice of the log manager the transaction
// manager drives.
type LogManager interface {
	LogTxnBegin(txnID uint64) error
	LogCommit(txnID uint64) error
	LogAbort(txnID uint64) error
}

// Transaction is (txn id, started flag, modified page ids), matching
// spec.md's data model exactly.
type Transaction struct {
	TxnID         uint64
	Started       bool
	ModifiedPages []page.PageID
}

// Manager is the transaction table: atomic id counter + a map from
// txn id to Transaction.
type Manager struct {
	mu      sync.Mutex
	counter uint64
	table   map[uint64]*Transaction

	log  LogManager
	pool *buffer.BufferManager
	out  *logrus.Entry
}

// New constructs a transaction manager over log and pool.
func New(log LogManager, pool *buffer.BufferManager, out *logrus.Entry) *Manager {
	if out == nil {
		out = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		table: make(map[uint64]*Transaction),
		log:   log,
		pool:  pool,
		out:   out.WithField("component", "transaction_manager"),
	}
}

// StartTxn atomically issues a new transaction id, registers it as
// started, logs BEGIN, and returns the id.
func (m *Manager) StartTxn() (uint64, error) {
	id := atomic.AddUint64(&m.counter, 1)

	m.mu.Lock()
	m.table[id] = &Transaction{TxnID: id, Started: true}
	m.mu.Unlock()

	if err := m.log.LogTxnBegin(id); err != nil {
		return 0, err
	}
	m.out.WithField("txn", id).Debug("begin")
	return id, nil
}

// AddModifiedPage appends pageID to the transaction's modified-pages
// list; called by operators after any mutation.
func (m *Manager) AddModifiedPage(txnID uint64, pageID page.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.table[txnID]
	if !ok {
		return buzzdberr.ErrUnknownTxn
	}
	t.ModifiedPages = append(t.ModifiedPages, pageID)
	return nil
}

// CommitTxn flushes every modified page (NO-STEAL/FORCE: dirty pages
// are flushed at commit), logs COMMIT, and marks the transaction not
// started. An unknown txn id is a fatal misuse error.
func (m *Manager) CommitTxn(txnID uint64) error {
	m.mu.Lock()
	t, ok := m.table[txnID]
	m.mu.Unlock()
	if !ok || !t.Started {
		return buzzdberr.ErrUnknownTxn
	}

	for _, pid := range t.ModifiedPages {
		if err := m.pool.FlushPage(pid); err != nil {
			return err
		}
	}
	if err := m.log.LogCommit(txnID); err != nil {
		return err
	}

	m.mu.Lock()
	t.Started = false
	m.mu.Unlock()
	m.out.WithField("txn", txnID).Debug("commit")
	return nil
}

// AbortTxn discards every modified page in memory (sufficient for
// pages that never leaked to disk under NO-STEAL), then logs ABORT,
// which performs compensating rollback for any page that was forced
// out despite NO-STEAL, and marks the transaction not started.
func (m *Manager) AbortTxn(txnID uint64) error {
	m.mu.Lock()
	t, ok := m.table[txnID]
	m.mu.Unlock()
	if !ok || !t.Started {
		return buzzdberr.ErrUnknownTxn
	}

	for _, pid := range t.ModifiedPages {
		if err := m.pool.DiscardPage(pid); err != nil {
			return err
		}
	}
	if err := m.log.LogAbort(txnID); err != nil {
		return err
	}

	m.mu.Lock()
	t.Started = false
	m.mu.Unlock()
	m.out.WithField("txn", txnID).Debug("abort")
	return nil
}

// Reset rebinds the log manager, discards all buffered pages, zeroes
// the counter, and clears the table: a crash-simulation test hook.
func (m *Manager) Reset(log LogManager) error {
	if err := m.pool.DiscardAllPages(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = log
	atomic.StoreUint64(&m.counter, 0)
	m.table = make(map[uint64]*Transaction)
	return nil
}

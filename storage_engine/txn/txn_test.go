package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"buzzdb/storage_engine/buffer"
	diskmanager "buzzdb/storage_engine/disk_manager"
	"buzzdb/storage_engine/page"
)

const (
	testPageSize = 4096
	testCapacity = 16
)

// fakeLog records every call it receives instead of touching disk,
// letting these tests exercise Manager's own bookkeeping in isolation
// from the real wal.Manager (covered end to end by the integration
// package).
type fakeLog struct {
	begun     []uint64
	committed []uint64
	aborted   []uint64
}

func (f *fakeLog) LogTxnBegin(txnID uint64) error {
	f.begun = append(f.begun, txnID)
	return nil
}
func (f *fakeLog) LogCommit(txnID uint64) error {
	f.committed = append(f.committed, txnID)
	return nil
}
func (f *fakeLog) LogAbort(txnID uint64) error {
	f.aborted = append(f.aborted, txnID)
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeLog, *buffer.BufferManager) {
	dir := t.TempDir()
	disk := diskmanager.New(dir, testPageSize, nil)
	pool, err := buffer.New(buffer.Config{PageSize: testPageSize, Capacity: testCapacity}, disk, nil)
	require.NoError(t, err)
	log := &fakeLog{}
	return New(log, pool, nil), log, pool
}

func TestStartTxnAssignsIncreasingIDsAndLogsBegin(t *testing.T) {
	m, log, _ := newTestManager(t)

	id1, err := m.StartTxn()
	require.NoError(t, err)
	id2, err := m.StartTxn()
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
	require.Equal(t, []uint64{id1, id2}, log.begun)
}

func TestCommitTxnFlushesModifiedPagesAndLogsCommit(t *testing.T) {
	m, log, pool := newTestManager(t)

	id, err := m.StartTxn()
	require.NoError(t, err)

	pid := page.NewPageID(1, 0)
	f, err := pool.FixPage(pid, true)
	require.NoError(t, err)
	require.NoError(t, pool.UnfixPage(f, true))
	require.NoError(t, m.AddModifiedPage(id, pid))

	require.NoError(t, m.CommitTxn(id))
	require.Equal(t, []uint64{id}, log.committed)
	require.False(t, f.Dirty, "commit must flush the modified page")

	require.False(t, m.table[id].Started)
}

func TestAbortTxnDiscardsPagesAndLogsAbort(t *testing.T) {
	m, log, pool := newTestManager(t)

	id, err := m.StartTxn()
	require.NoError(t, err)

	pid := page.NewPageID(1, 0)
	f, err := pool.FixPage(pid, true)
	require.NoError(t, err)
	require.NoError(t, pool.UnfixPage(f, true))
	require.NoError(t, m.AddModifiedPage(id, pid))

	require.NoError(t, m.AbortTxn(id))
	require.Equal(t, []uint64{id}, log.aborted)
	require.Equal(t, page.InvalidPageID, f.PageID, "abort must discard the modified page")
	require.False(t, m.table[id].Started)
}

func TestCommitUnknownTxnErrors(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.Error(t, m.CommitTxn(999))
}

func TestAbortUnknownTxnErrors(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.Error(t, m.AbortTxn(999))
}

func TestAddModifiedPageUnknownTxnErrors(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.Error(t, m.AddModifiedPage(999, page.NewPageID(1, 0)))
}

// TestResetDiscardsPagesZeroesCounterAndClearsTable exercises Reset in
// isolation: after a started txn and a rebind, a fresh StartTxn must
// begin counting from 1 again and the old txn id must be unknown.
func TestResetDiscardsPagesZeroesCounterAndClearsTable(t *testing.T) {
	m, log, pool := newTestManager(t)

	id, err := m.StartTxn()
	require.NoError(t, err)
	pid := page.NewPageID(1, 0)
	f, err := pool.FixPage(pid, true)
	require.NoError(t, err)
	require.NoError(t, pool.UnfixPage(f, true))
	require.NoError(t, m.AddModifiedPage(id, pid))

	newLog := &fakeLog{}
	require.NoError(t, m.Reset(newLog))
	require.Equal(t, page.InvalidPageID, f.PageID, "Reset must discard buffered pages")

	require.Error(t, m.CommitTxn(id), "old txn id must no longer be known after Reset")

	freshID, err := m.StartTxn()
	require.NoError(t, err)
	require.Equal(t, uint64(1), freshID)
	require.Equal(t, []uint64{freshID}, newLog.begun)
	require.Empty(t, log.begun[1:], "old log should not receive post-reset calls")
}

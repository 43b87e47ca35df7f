// Package wal implements the append-only write-ahead log and
// ARIES-style analysis/redo/undo recovery, grounded in the
// length-prefixed, CRC-checked record framing idiom of DaemonDB's
// top-level wal_manager package, but carrying spec's own
// BEGIN/UPDATE/COMMIT/ABORT/CHECKPOINT record taxonomy rather than
// that teacher's operation-log taxonomy.
package wal

import (
	"encoding/binary"
	"hash/crc32"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"buzzdb/storage_engine/buffer"
	"buzzdb/storage_engine/buzzdberr"
	"buzzdb/storage_engine/file"
	"buzzdb/storage_engine/page"
)

// RecordType tags a log record on disk.
type RecordType byte

const (
	RecordInvalid RecordType = iota
	RecordBegin
	RecordUpdate
	RecordCommit
	RecordAbort
	RecordCheckpoint
)

// recordHeaderLen is [TotalLen uint32][Type byte]; every record also
// ends with [CRC32 uint32][TotalLen uint32] so the log can be walked
// backward (needed by the preferred backward rollback traversal) by
// reading the trailing length field and jumping back.
const (
	lenFieldSize    = 4
	typeFieldSize   = 1
	crcFieldSize    = 4
	recordHeaderLen = lenFieldSize + typeFieldSize
	recordFooterLen = crcFieldSize + lenFieldSize
)

// Manager is the append-only log manager: current append offset, the
// txn-id to first-record-offset map (populated at BEGIN, removed at
// COMMIT/ABORT), and a per-record-type count, all exercised and
// maintained for real rather than returning 0 as in the original
// lab skeleton.
type Manager struct {
	mu sync.Mutex

	f      file.File
	offset int64

	firstOffset map[uint64]int64
	typeCounts  map[RecordType]int

	pool *buffer.BufferManager
	log  *logrus.Entry
}

// New opens f as the log file, served against pool for recovery's
// redo/undo page fix-ups. The append offset starts at f's current
// size, so reopening a non-empty log file after a restart positions
// appends after whatever was already written rather than at zero.
func New(f file.File, pool *buffer.BufferManager, log *logrus.Entry) (*Manager, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	size, err := f.Size()
	if err != nil {
		return nil, errors.Wrap(err, "new log manager: size")
	}
	return &Manager{
		f:           f,
		offset:      size,
		firstOffset: make(map[uint64]int64),
		typeCounts:  newCounts(),
		pool:        pool,
		log:         log.WithField("component", "log_manager"),
	}, nil
}

func newCounts() map[RecordType]int {
	return map[RecordType]int{
		RecordBegin:      0,
		RecordUpdate:     0,
		RecordCommit:     0,
		RecordAbort:      0,
		RecordCheckpoint: 0,
	}
}

// GetTotalLogRecords returns the sum of all per-type counts.
func (m *Manager) GetTotalLogRecords() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, c := range m.typeCounts {
		total += c
	}
	return total
}

// GetTotalLogRecordsOfType returns the count for a single record type.
func (m *Manager) GetTotalLogRecordsOfType(t RecordType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typeCounts[t]
}

// appendRecord writes [len][type][payload][crc][len] at m.offset and
// advances m.offset. Caller holds m.mu.
func (m *Manager) appendRecord(t RecordType, payload []byte) (int64, error) {
	total := recordHeaderLen + len(payload) + recordFooterLen
	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:], uint32(total))
	buf[lenFieldSize] = byte(t)
	copy(buf[recordHeaderLen:], payload)
	crc := crc32.ChecksumIEEE(payload)
	footerOff := recordHeaderLen + len(payload)
	binary.LittleEndian.PutUint32(buf[footerOff:], crc)
	binary.LittleEndian.PutUint32(buf[footerOff+crcFieldSize:], uint32(total))

	start := m.offset
	if err := m.f.Resize(start + int64(total)); err != nil {
		return 0, errors.Wrap(err, "append_record: resize")
	}
	if err := m.f.WriteBlock(buf, start, int64(total)); err != nil {
		return 0, errors.Wrap(err, "append_record: write")
	}
	m.offset += int64(total)
	m.typeCounts[t]++
	return start, nil
}

// validateCRC recomputes the CRC32 of payload and compares it against
// storedCRC (the first crcFieldSize bytes of the record's footer),
// matching DaemonDB's wal_manager CRC check on read.
func validateCRC(payload []byte, storedCRC uint32) error {
	actual := crc32.ChecksumIEEE(payload)
	if actual != storedCRC {
		return errors.Wrapf(buzzdberr.ErrRecoveryInconsistent, "crc mismatch: stored %d computed %d", storedCRC, actual)
	}
	return nil
}

func putTxnID(dst []byte, id uint64) { binary.LittleEndian.PutUint64(dst, id) }
func getTxnID(src []byte) uint64     { return binary.LittleEndian.Uint64(src) }

// LogTxnBegin appends a BEGIN record and records its offset as the
// transaction's rollback anchor.
func (m *Manager) LogTxnBegin(txnID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := make([]byte, 8)
	putTxnID(payload, txnID)
	start, err := m.appendRecord(RecordBegin, payload)
	if err != nil {
		return err
	}
	m.firstOffset[txnID] = start
	return nil
}

// LogUpdate appends an UPDATE record carrying both images.
func (m *Manager) LogUpdate(txnID uint64, pageID page.PageID, length, offset uint32, beforeImage, afterImage []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := make([]byte, 8+8+4+4+int(length)*2)
	putTxnID(payload[0:], txnID)
	binary.LittleEndian.PutUint64(payload[8:], uint64(pageID))
	binary.LittleEndian.PutUint32(payload[16:], length)
	binary.LittleEndian.PutUint32(payload[20:], offset)
	copy(payload[24:], beforeImage[:length])
	copy(payload[24+int(length):], afterImage[:length])
	_, err := m.appendRecord(RecordUpdate, payload)
	return err
}

// LogCommit appends a COMMIT record and clears the txn's anchor.
func (m *Manager) LogCommit(txnID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := make([]byte, 8)
	putTxnID(payload, txnID)
	if _, err := m.appendRecord(RecordCommit, payload); err != nil {
		return err
	}
	delete(m.firstOffset, txnID)
	return nil
}

// LogAbort performs the transaction's physical rollback (backward
// traversal, per the design note preferring reverse order over the
// original forward scan) and then appends an ABORT record.
func (m *Manager) LogAbort(txnID uint64) error {
	m.mu.Lock()
	anchor, ok := m.firstOffset[txnID]
	endOfLog := m.offset
	m.mu.Unlock()
	if !ok {
		anchor = 0
	}
	if err := m.rollbackFrom(txnID, endOfLog, anchor); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	payload := make([]byte, 8)
	putTxnID(payload, txnID)
	if _, err := m.appendRecord(RecordAbort, payload); err != nil {
		return err
	}
	delete(m.firstOffset, txnID)
	return nil
}

// RollbackTxn restores txnID's before-images, walking backward from
// the current end of the log to the transaction's BEGIN record. It is
// idempotent: re-applying leaves the same state, since every
// before-image is re-copied verbatim.
func (m *Manager) RollbackTxn(txnID uint64) error {
	m.mu.Lock()
	anchor, ok := m.firstOffset[txnID]
	endOfLog := m.offset
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.rollbackFrom(txnID, endOfLog, anchor)
}

// rollbackFrom walks the log backward starting just before `from`,
// stopping once it has processed the record at `anchor` (the txn's
// BEGIN), applying the before-image of every UPDATE record belonging
// to txnID. Walking backward means the most recent before-image is
// applied first, so each older before-image truly restores a state
// that predates the update it is paired with.
func (m *Manager) rollbackFrom(txnID uint64, from, anchor int64) error {
	pos := from
	for pos > anchor {
		footerStart := pos - recordFooterLen
		footer := make([]byte, recordFooterLen)
		if err := m.f.ReadBlock(footerStart, recordFooterLen, footer); err != nil {
			return errors.Wrap(err, "rollback: read footer")
		}
		total := int64(binary.LittleEndian.Uint32(footer[crcFieldSize:]))
		recordStart := pos - total

		header := make([]byte, recordHeaderLen)
		if err := m.f.ReadBlock(recordStart, recordHeaderLen, header); err != nil {
			return errors.Wrap(err, "rollback: read header")
		}
		t := RecordType(header[lenFieldSize])

		payloadLen := total - recordHeaderLen - recordFooterLen
		payload := make([]byte, payloadLen)
		if err := m.f.ReadBlock(recordStart+recordHeaderLen, payloadLen, payload); err != nil {
			return errors.Wrap(err, "rollback: read payload")
		}
		storedCRC := binary.LittleEndian.Uint32(footer[:crcFieldSize])
		if err := validateCRC(payload, storedCRC); err != nil {
			return errors.Wrapf(err, "rollback: record at %d", recordStart)
		}

		if t == RecordUpdate && getTxnID(payload) == txnID {
			pageID := page.PageID(binary.LittleEndian.Uint64(payload[8:]))
			length := binary.LittleEndian.Uint32(payload[16:])
			offset := binary.LittleEndian.Uint32(payload[20:])
			before := payload[24 : 24+length]
			if err := m.applyImage(pageID, offset, length, before); err != nil {
				return err
			}
		}

		pos = recordStart
	}
	return nil
}

func (m *Manager) applyImage(pageID page.PageID, offset, length uint32, image []byte) error {
	f, err := m.pool.FixPage(pageID, true)
	if err != nil {
		return err
	}
	copy(f.Data[offset:offset+length], image)
	return m.pool.UnfixPage(f, true)
}

// LogCheckpoint flushes all pages, then writes a CHECKPOINT record
// listing the currently active transaction ids, an Analysis-phase
// optimization a recovering reader may use to skip scanning earlier
// than the latest checkpoint.
func (m *Manager) LogCheckpoint(activeTxnIDs []uint64) error {
	if err := m.pool.FlushAllPages(); err != nil {
		return errors.Wrap(err, "log_checkpoint: flush_all_pages")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	payload := make([]byte, 4+8*len(activeTxnIDs))
	binary.LittleEndian.PutUint32(payload, uint32(len(activeTxnIDs)))
	for i, id := range activeTxnIDs {
		binary.LittleEndian.PutUint64(payload[4+8*i:], id)
	}
	_, err := m.appendRecord(RecordCheckpoint, payload)
	return err
}

// recoveryState is the outcome of the Analysis phase.
type recoveryState struct {
	committed   map[uint64]bool
	active      map[uint64]bool
	firstOffset map[uint64]int64
}

// Recovery runs the three ARIES phases against the log on disk:
// analysis rebuilds the committed/active transaction sets; redo
// reapplies every UPDATE's after-image unconditionally and undoes any
// transaction whose ABORT record is encountered; undo rolls back
// every transaction still active at the end of the log. Replay is
// idempotent: running Recovery again afterward is a no-op on page
// contents, since every before/after image is copied verbatim.
func (m *Manager) Recovery() error {
	size, err := m.f.Size()
	if err != nil {
		return err
	}

	st, err := m.analyze(size)
	if err != nil {
		return err
	}
	if err := m.redo(size, st); err != nil {
		return err
	}
	for txnID := range st.active {
		if err := m.rollbackFrom(txnID, size, st.firstOffset[txnID]); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.firstOffset = make(map[uint64]int64)
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"committed": len(st.committed),
		"active":    len(st.active),
	}).Info("recovery complete")
	return nil
}

func (m *Manager) analyze(size int64) (*recoveryState, error) {
	st := &recoveryState{
		committed:   make(map[uint64]bool),
		active:      make(map[uint64]bool),
		firstOffset: make(map[uint64]int64),
	}
	pos := int64(0)
	for pos < size {
		rec, next, err := m.readRecordAt(pos)
		if err != nil {
			return nil, errors.Wrap(err, "analysis")
		}
		switch rec.typ {
		case RecordBegin:
			st.active[rec.txnID] = true
			st.firstOffset[rec.txnID] = pos
		case RecordCommit:
			st.committed[rec.txnID] = true
			delete(st.active, rec.txnID)
		case RecordAbort:
			delete(st.active, rec.txnID)
		case RecordCheckpoint:
			// Optimization point only: a full scan from 0 is always
			// correct, so checkpoints are otherwise observed and
			// skipped.
		case RecordUpdate:
			// no analysis-phase effect beyond having been scanned.
		default:
			return nil, errors.Wrapf(buzzdberr.ErrRecoveryInconsistent, "unknown record type %d at offset %d", rec.typ, pos)
		}
		pos = next
	}
	return st, nil
}

func (m *Manager) redo(size int64, st *recoveryState) error {
	pos := int64(0)
	for pos < size {
		rec, next, err := m.readRecordAt(pos)
		if err != nil {
			return errors.Wrap(err, "redo")
		}
		switch rec.typ {
		case RecordUpdate:
			if err := m.applyImage(rec.pageID, rec.offset, rec.length, rec.after); err != nil {
				return err
			}
		case RecordAbort:
			if err := m.rollbackFrom(rec.txnID, pos, st.firstOffset[rec.txnID]); err != nil {
				return err
			}
		}
		pos = next
	}
	return nil
}

type parsedRecord struct {
	typ    RecordType
	txnID  uint64
	pageID page.PageID
	length uint32
	offset uint32
	before []byte
	after  []byte
}

// readRecordAt parses the record starting at pos, returning it and
// the offset of the next record.
func (m *Manager) readRecordAt(pos int64) (parsedRecord, int64, error) {
	header := make([]byte, recordHeaderLen)
	if err := m.f.ReadBlock(pos, recordHeaderLen, header); err != nil {
		return parsedRecord{}, 0, err
	}
	total := int64(binary.LittleEndian.Uint32(header))
	t := RecordType(header[lenFieldSize])
	payloadLen := total - recordHeaderLen - recordFooterLen
	payload := make([]byte, payloadLen)
	if err := m.f.ReadBlock(pos+recordHeaderLen, payloadLen, payload); err != nil {
		return parsedRecord{}, 0, err
	}

	footer := make([]byte, recordFooterLen)
	if err := m.f.ReadBlock(pos+recordHeaderLen+payloadLen, recordFooterLen, footer); err != nil {
		return parsedRecord{}, 0, err
	}
	storedCRC := binary.LittleEndian.Uint32(footer[:crcFieldSize])
	if err := validateCRC(payload, storedCRC); err != nil {
		return parsedRecord{}, 0, errors.Wrapf(err, "read_record_at: record at %d", pos)
	}

	rec := parsedRecord{typ: t}
	switch t {
	case RecordBegin, RecordCommit, RecordAbort:
		rec.txnID = getTxnID(payload)
	case RecordUpdate:
		rec.txnID = getTxnID(payload)
		rec.pageID = page.PageID(binary.LittleEndian.Uint64(payload[8:]))
		rec.length = binary.LittleEndian.Uint32(payload[16:])
		rec.offset = binary.LittleEndian.Uint32(payload[20:])
		rec.before = payload[24 : 24+rec.length]
		rec.after = payload[24+rec.length : 24+2*rec.length]
	case RecordCheckpoint:
		// payload intentionally unparsed beyond the type switch above;
		// checkpoint contents are an optimization hint only.
	default:
		return parsedRecord{}, 0, errors.Wrapf(buzzdberr.ErrRecoveryInconsistent, "unknown record type %d", t)
	}
	return rec, pos + total, nil
}

// Reset replaces the log file handle and zeroes in-memory bookkeeping
// other than the append offset (recomputed from f's current size), a
// test hook simulating a crash: it does not touch pages.
func (m *Manager) Reset(f file.File) error {
	size, err := f.Size()
	if err != nil {
		return errors.Wrap(err, "reset: size")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.f = f
	m.offset = size
	m.firstOffset = make(map[uint64]int64)
	m.typeCounts = newCounts()
	return nil
}

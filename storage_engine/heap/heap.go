// Package heap implements the heap segment: a segment-id-namespaced
// collection of slotted pages offering record-level allocate/read/
// write, invoking the log manager on every write.
package heap

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"buzzdb/storage_engine/buffer"
	"buzzdb/storage_engine/buzzdberr"
	"buzzdb/storage_engine/page"
)

// LogWriter is the narrow slice of the log manager the heap segment
// needs: logging an UPDATE after an in-place overwrite.
type LogWriter interface {
	LogUpdate(txnID uint64, pageID page.PageID, length, offset uint32, beforeImage, afterImage []byte) error
}

// PageMeta carries per-page diagnostic bookkeeping supplementary to
// the slotted-page header, grounded in original_source's HeapPage
// header field "last_dirtied_transaction_id" (distinct from the
// slotted-page header; purely observability, not load-bearing for any
// invariant).
type PageMeta struct {
	LastDirtiedTxnID uint64
}

// Segment is a tuple of (segment id, page count, log manager,
// buffer manager); page count monotonically grows as new pages are
// requested, following DaemonDB's HeapFile/HeapFileManager
// construction idiom (mutex + map bookkeeping) adapted to spec-exact
// allocate/read/write semantics over page.SlottedPage.
type Segment struct {
	SegmentID uint16
	pageCount uint64
	log       LogWriter
	pool      *buffer.BufferManager
	meta      map[uint64]*PageMeta
	mu        sync.Mutex
	logger    *logrus.Entry
}

// New returns a heap segment over segmentID backed by pool, invoking
// log on every write.
func New(segmentID uint16, pool *buffer.BufferManager, log LogWriter, logger *logrus.Entry) *Segment {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Segment{
		SegmentID: segmentID,
		pool:      pool,
		log:       log,
		meta:      make(map[uint64]*PageMeta),
		logger:    logger.WithField("component", "heap_segment"),
	}
}

func (s *Segment) pageID(pageWithinSegment uint64) page.PageID {
	return page.NewPageID(s.SegmentID, pageWithinSegment)
}

// PageCount returns the current number of pages in the segment.
func (s *Segment) PageCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCount
}

// SetPageCount restores the segment's page count after a restart,
// fed from the catalog's persisted record (this package has no
// on-disk header of its own tracking page count; that bookkeeping
// belongs to the catalog per spec.md §6).
func (s *Segment) SetPageCount(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageCount = n
	for pno := uint64(0); pno < n; pno++ {
		if _, ok := s.meta[pno]; !ok {
			s.meta[pno] = &PageMeta{}
		}
	}
}

// Scan visits every live (non-free, non-tombstone) record in the
// segment in page/slot order, calling visit with its TID and a copy
// of its bytes. This is not the sequential scan operator (that
// remains an external collaborator per spec.md §1); it exists solely
// so this module's own tests can inspect heap contents directly.
func (s *Segment) Scan(visit func(tid page.TID, data []byte) error) error {
	s.mu.Lock()
	pageCount := s.pageCount
	s.mu.Unlock()

	for pno := uint64(0); pno < pageCount; pno++ {
		pid := s.pageID(pno)
		f, err := s.pool.FixPage(pid, false)
		if err != nil {
			return err
		}
		sp := page.New(f.Data)
		slotCount := sp.SlotCount()
		for sid := uint16(0); sid < slotCount; sid++ {
			slot := sp.GetSlot(sid)
			if slot.IsFree() || slot.IsTombstone() {
				continue
			}
			data := make([]byte, slot.Length())
			copy(data, sp.Payload(sid))
			tid := page.NewTID(pno, sid)
			if err := visit(tid, data); err != nil {
				_ = s.pool.UnfixPage(f, false)
				return err
			}
		}
		if err := s.pool.UnfixPage(f, false); err != nil {
			return err
		}
	}
	return nil
}

// Allocate scans pages [0, page_count) in order for the first page
// whose free space covers recordSize; if none is found, appends a
// fresh page. Returns the TID of the newly allocated slot.
func (s *Segment) Allocate(recordSize uint32) (page.TID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for pno := uint64(0); pno < s.pageCount; pno++ {
		pid := s.pageID(pno)
		f, err := s.pool.FixPage(pid, true)
		if err != nil {
			return 0, err
		}
		sp := page.New(f.Data)
		if sp.FreeSpace() >= recordSize {
			tid, err := sp.AddSlot(recordSize)
			if err != nil {
				_ = s.pool.UnfixPage(f, false)
				return 0, err
			}
			if err := s.pool.UnfixPage(f, true); err != nil {
				return 0, err
			}
			return tid, nil
		}
		if err := s.pool.UnfixPage(f, false); err != nil {
			return 0, err
		}
	}

	// No existing page had room: append a fresh one.
	pno := s.pageCount
	pid := s.pageID(pno)
	f, err := s.pool.FixPage(pid, true)
	if err != nil {
		return 0, err
	}
	sp := page.New(f.Data)
	sp.Init(pid)
	tid, err := sp.AddSlot(recordSize)
	if err != nil {
		_ = s.pool.UnfixPage(f, false)
		return 0, err
	}
	if err := s.pool.UnfixPage(f, true); err != nil {
		return 0, err
	}
	s.pageCount++
	s.meta[pno] = &PageMeta{}
	return tid, nil
}

// Read decodes page + slot from tid, copies min(length, capacity)
// bytes into out, and returns the record's stored length. It fails
// if capacity < length; callers are expected to size buffers to the
// slot length.
func (s *Segment) Read(tid page.TID, out []byte) (int, error) {
	pid := s.pageID(tid.PageWithinSegment())
	f, err := s.pool.FixPage(pid, false)
	if err != nil {
		return 0, err
	}
	f.RLock()
	sp := page.New(f.Data)
	slot := sp.GetSlot(tid.SlotID())
	length := int(slot.Length())
	if len(out) < length {
		f.RUnlock()
		_ = s.pool.UnfixPage(f, false)
		return 0, errors.Wrapf(buzzdberr.ErrShortBuffer, "need %d, have %d", length, len(out))
	}
	copy(out, sp.Payload(tid.SlotID()))
	f.RUnlock()
	if err := s.pool.UnfixPage(f, false); err != nil {
		return 0, err
	}
	return length, nil
}

// Write overwrites the record addressed by tid in place. It captures
// the current bytes as a before image, copies the new bytes in, and
// logs an UPDATE record with both images. Growth/shrink is not
// supported: buf must be exactly recordSize bytes and recordSize must
// equal the slot's existing length (the spec defines write as an
// in-place overwrite only).
func (s *Segment) Write(txnID uint64, tid page.TID, buf []byte, recordSize uint32) error {
	pid := s.pageID(tid.PageWithinSegment())
	f, err := s.pool.FixPage(pid, true)
	if err != nil {
		return err
	}
	f.Lock()
	sp := page.New(f.Data)
	slot := sp.GetSlot(tid.SlotID())
	offset := slot.Offset()

	before := make([]byte, recordSize)
	copy(before, f.Data[offset:offset+recordSize])

	after := make([]byte, recordSize)
	copy(after, buf[:recordSize])
	copy(f.Data[offset:offset+recordSize], after)
	f.Unlock()

	if err := s.pool.UnfixPage(f, true); err != nil {
		return err
	}

	s.mu.Lock()
	if m, ok := s.meta[tid.PageWithinSegment()]; ok {
		m.LastDirtiedTxnID = txnID
	}
	s.mu.Unlock()

	return s.log.LogUpdate(txnID, pid, recordSize, offset, before, after)
}

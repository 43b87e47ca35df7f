// Package page implements the slotted-page record layout: a fixed-size
// byte buffer holding a header, a directory of packed slots, and
// variable-length record payloads growing downward from the end of
// the buffer.
package page

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"buzzdb/storage_engine/buzzdberr"
)

// DefaultPageSize and DefaultPoolCapacity are the engine's defaults;
// RegisterSize is carried for parity with the original implementation
// but is unused by the core (legacy register-file sizing).
const (
	DefaultPageSize     = 8196
	DefaultPoolCapacity = 400
	RegisterSize        = 17
)

// InvalidPageID is the all-bits-set sentinel meaning "no page".
const InvalidPageID PageID = ^PageID(0)

// PageID is a composite 64-bit identifier: the high 16 bits are a
// segment id, the low 48 bits are a page-within-segment id.
type PageID uint64

// NewPageID packs a segment id and a page-within-segment id into a PageID.
func NewPageID(segmentID uint16, pageWithinSegment uint64) PageID {
	return PageID(uint64(segmentID)<<48 | (pageWithinSegment & 0x0000FFFFFFFFFFFF))
}

// SegmentID returns the high 16 bits.
func (p PageID) SegmentID() uint16 {
	return uint16(uint64(p) >> 48)
}

// PageWithinSegment returns the low 48 bits.
func (p PageID) PageWithinSegment() uint64 {
	return uint64(p) & 0x0000FFFFFFFFFFFF
}

// TID is a tuple identifier: the high 48 bits are a page-within-segment
// id, the low 16 bits are a slot id. A TID is stable as long as the
// owning record is not relocated.
type TID uint64

// NewTID packs a page-within-segment id and a slot id into a TID.
func NewTID(pageWithinSegment uint64, slotID uint16) TID {
	return TID((pageWithinSegment&0x0000FFFFFFFFFFFF)<<16 | uint64(slotID))
}

// PageWithinSegment returns the high 48 bits.
func (t TID) PageWithinSegment() uint64 {
	return uint64(t) >> 16
}

// SlotID returns the low 16 bits.
func (t TID) SlotID() uint16 {
	return uint16(uint64(t) & 0xFFFF)
}

// Slot is a bit-packed 64-bit directory entry:
//
//	bits 56-63: tombstone marker (0xFF if redirect/absent, 0 if live)
//	bits 48-55: indirection flag (reserved, always 0)
//	bits 24-47: byte offset of the payload within the page (24 bits)
//	bits 0-23:  payload length in bytes (24 bits)
//
// The zero Slot value denotes a free/empty slot reusable by allocation.
type Slot uint64

const tombstoneLive = 0x00
const tombstoneAbsent = 0xFF

func newSlot(offset, length uint32) Slot {
	return Slot(uint64(tombstoneLive)<<56 | uint64(offset&0xFFFFFF)<<24 | uint64(length&0xFFFFFF))
}

// IsFree reports whether the slot is an unused, reusable directory entry.
func (s Slot) IsFree() bool {
	return s == 0
}

// IsTombstone reports whether the slot marks a redirected/absent record.
func (s Slot) IsTombstone() bool {
	return (uint64(s)>>56)&0xFF == tombstoneAbsent
}

// Offset returns the byte offset of the payload within the page.
func (s Slot) Offset() uint32 {
	return uint32((uint64(s) >> 24) & 0xFFFFFF)
}

// Length returns the payload length in bytes.
func (s Slot) Length() uint32 {
	return uint32(uint64(s) & 0xFFFFFF)
}

// header byte offsets within the page buffer. The header occupies a
// fixed prefix; the slot array immediately follows it. Per the design
// notes, there is no stored back-pointer to the owning buffer frame.
// The header and slot array are re-derived from the buffer on every
// access.
const (
	hdrOffPageID      = 0  // uint64
	hdrOffSlotCount   = 8  // uint16
	hdrOffFirstFree   = 10 // uint16
	hdrOffDataStart   = 12 // uint32
	hdrOffFreeSpace   = 16 // uint32
	HeaderBytes       = 20
	slotBytes         = 8
)

// SlottedPage is a structured view over a page-sized byte buffer. It
// holds no state of its own beyond the buffer reference; all fields
// are read from / written to the underlying bytes on every call so
// that a SlottedPage obtained from a buffer frame always reflects the
// frame's current contents.
type SlottedPage struct {
	buf []byte
}

// New returns a structured view over buf without touching its
// contents. Use Init to stamp a fresh header.
func New(buf []byte) *SlottedPage {
	return &SlottedPage{buf: buf}
}

// Init initializes a fresh header in place: free_space = page_size -
// header_bytes, data_start = page_size, slot_count = first_free_slot = 0.
func (p *SlottedPage) Init(pageID PageID) {
	pageSize := uint32(len(p.buf))
	binary.LittleEndian.PutUint64(p.buf[hdrOffPageID:], uint64(pageID))
	binary.LittleEndian.PutUint16(p.buf[hdrOffSlotCount:], 0)
	binary.LittleEndian.PutUint16(p.buf[hdrOffFirstFree:], 0)
	binary.LittleEndian.PutUint32(p.buf[hdrOffDataStart:], pageSize)
	binary.LittleEndian.PutUint32(p.buf[hdrOffFreeSpace:], pageSize-HeaderBytes)
}

// OverallPageID returns the page id stamped into the header.
func (p *SlottedPage) OverallPageID() PageID {
	return PageID(binary.LittleEndian.Uint64(p.buf[hdrOffPageID:]))
}

// SetOverallPageID overwrites the header's page id field.
func (p *SlottedPage) SetOverallPageID(id PageID) {
	binary.LittleEndian.PutUint64(p.buf[hdrOffPageID:], uint64(id))
}

// SlotCount returns the total length of the slot array.
func (p *SlottedPage) SlotCount() uint16 {
	return binary.LittleEndian.Uint16(p.buf[hdrOffSlotCount:])
}

func (p *SlottedPage) setSlotCount(n uint16) {
	binary.LittleEndian.PutUint16(p.buf[hdrOffSlotCount:], n)
}

// FirstFreeSlot returns the index of the lowest free slot, or
// SlotCount() if none.
func (p *SlottedPage) FirstFreeSlot() uint16 {
	return binary.LittleEndian.Uint16(p.buf[hdrOffFirstFree:])
}

func (p *SlottedPage) setFirstFreeSlot(idx uint16) {
	binary.LittleEndian.PutUint16(p.buf[hdrOffFirstFree:], idx)
}

// DataStart returns the low-water mark of the payload region.
func (p *SlottedPage) DataStart() uint32 {
	return binary.LittleEndian.Uint32(p.buf[hdrOffDataStart:])
}

func (p *SlottedPage) setDataStart(v uint32) {
	binary.LittleEndian.PutUint32(p.buf[hdrOffDataStart:], v)
}

// FreeSpace returns the bytes available for a new slot + payload.
func (p *SlottedPage) FreeSpace() uint32 {
	return binary.LittleEndian.Uint32(p.buf[hdrOffFreeSpace:])
}

func (p *SlottedPage) setFreeSpace(v uint32) {
	binary.LittleEndian.PutUint32(p.buf[hdrOffFreeSpace:], v)
}

func (p *SlottedPage) slotOffset(slotID uint16) int {
	return HeaderBytes + int(slotID)*slotBytes
}

// GetSlot returns direct indexed access to the slot array.
func (p *SlottedPage) GetSlot(slotID uint16) Slot {
	off := p.slotOffset(slotID)
	return Slot(binary.LittleEndian.Uint64(p.buf[off:]))
}

// SetSlot writes raw_value directly into the slot array.
func (p *SlottedPage) SetSlot(slotID uint16, raw Slot) {
	off := p.slotOffset(slotID)
	binary.LittleEndian.PutUint64(p.buf[off:], uint64(raw))
}

func (p *SlottedPage) recomputeFreeSpace() {
	headerAndSlots := uint32(HeaderBytes) + uint32(p.SlotCount())*slotBytes
	p.setFreeSpace(p.DataStart() - headerAndSlots)
}

// AddSlot allocates size bytes of payload space and returns the TID
// addressing the new slot. It fails if size exceeds free space; no
// compaction is performed (compaction is a declared, unimplemented
// extension point).
func (p *SlottedPage) AddSlot(size uint32) (TID, error) {
	if size > p.FreeSpace() {
		return 0, errors.Wrapf(buzzdberr.ErrRecordTooLarge, "page %d: add_slot: need %d bytes, only %d free", p.OverallPageID(), size, p.FreeSpace())
	}

	newDataStart := p.DataStart() - size
	p.setDataStart(newDataStart)

	var slotID uint16
	firstFree := p.FirstFreeSlot()
	slotCount := p.SlotCount()
	if firstFree == slotCount {
		slotID = slotCount
		p.setSlotCount(slotCount + 1)
	} else {
		slotID = firstFree
	}

	p.SetSlot(slotID, newSlot(newDataStart, size))
	p.recomputeFreeSpace()

	// Scan left-to-right for the next free (zero) slot.
	nextFree := p.SlotCount()
	for i := uint16(0); i < p.SlotCount(); i++ {
		if p.GetSlot(i).IsFree() {
			nextFree = i
			break
		}
	}
	p.setFirstFreeSlot(nextFree)

	return NewTID(uint64(p.OverallPageID().PageWithinSegment()), slotID), nil
}

// Bytes returns the full underlying buffer.
func (p *SlottedPage) Bytes() []byte {
	return p.buf
}

// Payload returns the record bytes addressed by slotID.
func (p *SlottedPage) Payload(slotID uint16) []byte {
	s := p.GetSlot(slotID)
	return p.buf[s.Offset() : s.Offset()+s.Length()]
}

// Package catalog provides the minimal external catalog surface the
// spec treats as opaque: a tiny fixed-record file mapping table id to
// page count. This is not reimplemented as a real catalog service,
// only the read/write pair tests and external scanners need, ported
// from original_source's Catalog (a map kept in memory, backed by the
// tiny on-disk record format described in spec.md §6).
package catalog

import (
	"encoding/binary"

	"buzzdb/storage_engine/file"
)

// EntrySize is 8 bytes table id + 8 bytes page count.
const EntrySize = 16

// WriteEntry writes a table's catalog record at offset 0, per
// populate_table's convention of one catalog file per table.
func WriteEntry(f file.File, tableID uint64, pageCount uint64) error {
	if err := f.Resize(EntrySize); err != nil {
		return err
	}
	buf := make([]byte, EntrySize)
	binary.LittleEndian.PutUint64(buf[0:], tableID)
	binary.LittleEndian.PutUint64(buf[8:], pageCount)
	return f.WriteBlock(buf, 0, EntrySize)
}

// ReadEntry reads a table's catalog record from offset 0.
func ReadEntry(f file.File) (tableID uint64, pageCount uint64, err error) {
	buf := make([]byte, EntrySize)
	if err := f.ReadBlock(0, EntrySize, buf); err != nil {
		return 0, 0, err
	}
	return binary.LittleEndian.Uint64(buf[0:]), binary.LittleEndian.Uint64(buf[8:]), nil
}

// Catalog is an in-memory table-id to page-count map, mirroring
// original_source/src/include/optimizer/catalog.h's Catalog, kept as
// an explicit struct parameter rather than process-global state per
// spec.md §9's design note against a global singleton catalog.
type Catalog struct {
	pages map[uint16]uint64
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{pages: make(map[uint16]uint64)}
}

// NumHeapPages returns the recorded page count for tableID.
func (c *Catalog) NumHeapPages(tableID uint16) uint64 {
	return c.pages[tableID]
}

// SetNumHeapPages records tableID's page count.
func (c *Catalog) SetNumHeapPages(tableID uint16, numPages uint64) {
	c.pages[tableID] = numPages
}

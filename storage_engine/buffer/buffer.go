// Package buffer implements the fixed-capacity frame pool: page
// fault, fix/unfix, write-back, and bulk flush/discard.
package buffer

import (
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	diskmanager "buzzdb/storage_engine/disk_manager"
	"buzzdb/storage_engine/buzzdberr"
	"buzzdb/storage_engine/page"
)

// Frame is a buffer frame: a fixed-size byte buffer, the page id it
// currently holds, a dirty flag (sticky: once true stays true until
// flush or discard), and its own frame index. Frames are owned
// exclusively by the pool; callers get a reference bounded by a
// matching Unfix.
type Frame struct {
	Index   int
	PageID  page.PageID
	Data    []byte
	Dirty   bool
	mu      sync.RWMutex
}

// Config holds construction parameters, following DaemonDB's
// constructor-parameter idiom rather than a config file (CLI/config
// files are out of scope).
type Config struct {
	PageSize int64
	Capacity int
}

// DefaultConfig mirrors spec.md's defaults.
func DefaultConfig() Config {
	return Config{PageSize: page.DefaultPageSize, Capacity: page.DefaultPoolCapacity}
}

// BufferManager is a fixed pool of Capacity frames of uniform
// PageSize. Frame lookup by page id is accelerated by a ristretto
// cache (replacing DaemonDB's unused declared dependency and the
// naive linear scan with a real admission-tracked index), while frame
// *allocation* still follows spec.md's monotonic-counter policy: no
// real eviction is attempted, fix_page fails buffer-full once the
// counter would exceed capacity.
type BufferManager struct {
	cfg    Config
	disk   *diskmanager.DiskManager
	frames []*Frame
	// index maps a resident page id to its frame, exercised by the
	// ristretto residency cache below; frames are never evicted from
	// it by ristretto itself (our allocation policy is the source of
	// truth for capacity), but Get/Set/Del keep it in sync so lookups
	// don't require a literal O(n) scan.
	index        *ristretto.Cache[uint64, int]
	frameCounter int
	mu           sync.Mutex
	log          *logrus.Entry
}

// New constructs a BufferManager backed by disk for segment I/O.
func New(cfg Config, disk *diskmanager.DiskManager, log *logrus.Entry) (*BufferManager, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, int]{
		NumCounters: int64(cfg.Capacity) * 10,
		MaxCost:     int64(cfg.Capacity),
		// Each entry costs exactly 1 against MaxCost = Capacity; without
		// this, ristretto's per-item overhead exceeds MaxCost and every
		// Set is rejected.
		IgnoreInternalCost: true,
		BufferItems:        64,
		OnEvict: func(item *ristretto.Item[int]) {
			log.WithField("frame", item.Value).Debug("ristretto residency entry evicted")
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "construct ristretto cache")
	}
	return &BufferManager{
		cfg:    cfg,
		disk:   disk,
		frames: make([]*Frame, cfg.Capacity),
		index:  cache,
		log:    log.WithField("component", "buffer_manager"),
	}, nil
}

// FixPage returns a stable handle to a frame holding id's contents.
// exclusive is accepted per spec.md §5 (a future multi-reader/
// single-writer lock manager extension point) but not enforced by
// this single-threaded cooperative core.
func (b *BufferManager) FixPage(id page.PageID, exclusive bool) (*Frame, error) {
	if id == page.InvalidPageID {
		return nil, errors.Wrapf(buzzdberr.ErrInvalidPage, "fix_page: %d", id)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if idx, ok := b.index.Get(uint64(id)); ok {
		return b.frames[idx], nil
	}

	if b.frameCounter >= b.cfg.Capacity {
		return nil, errors.Wrapf(buzzdberr.ErrBufferFull, "capacity %d exhausted", b.cfg.Capacity)
	}

	idx := b.frameCounter
	b.frameCounter++

	data := make([]byte, b.cfg.PageSize)
	if err := b.disk.ReadPage(id.SegmentID(), id.PageWithinSegment(), data); err != nil {
		b.frameCounter--
		return nil, errors.Wrapf(err, "fix_page %d: read_frame", id)
	}

	f := &Frame{Index: idx, PageID: id, Data: data, Dirty: false}
	b.frames[idx] = f
	b.index.Set(uint64(id), idx, 1)
	b.index.Wait()

	b.log.WithFields(logrus.Fields{"page": id, "frame": idx}).Debug("fixed page")
	return f, nil
}

// UnfixPage releases a frame previously returned by FixPage, setting
// dirty if isDirty is true (dirty is sticky: it is never cleared here).
func (b *BufferManager) UnfixPage(f *Frame, isDirty bool) error {
	if f == nil {
		return buzzdberr.ErrNeverFixed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if isDirty {
		f.Dirty = true
	}
	return nil
}

func (b *BufferManager) frameFor(id page.PageID) *Frame {
	if idx, ok := b.index.Get(uint64(id)); ok {
		return b.frames[idx]
	}
	return nil
}

// FlushPage writes the page back to disk if resident and dirty.
func (b *BufferManager) FlushPage(id page.PageID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.frameFor(id)
	if f == nil {
		return nil
	}
	return b.writeFrame(f)
}

// writeFrame opens the owning segment (writable) and writes the
// frame's bytes back at page_within_segment * page_size.
func (b *BufferManager) writeFrame(f *Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Dirty {
		return nil
	}
	if err := b.disk.WritePage(f.PageID.SegmentID(), f.PageID.PageWithinSegment(), f.Data); err != nil {
		return errors.Wrapf(err, "write_frame page %d", f.PageID)
	}
	f.Dirty = false
	return nil
}

// DiscardPage resets the frame if resident: zero contents, clear
// dirty, mark the page id invalid, and drop it from the residency
// index so the frame slot can host a different page again only via
// the monotonic counter (this core never recycles frame slots;
// discarding releases the *mapping*, not the slot, matching spec.md's
// "no real replacement policy" stance).
func (b *BufferManager) DiscardPage(id page.PageID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.frameFor(id)
	if f == nil {
		return nil
	}
	f.mu.Lock()
	for i := range f.Data {
		f.Data[i] = 0
	}
	f.Dirty = false
	f.PageID = page.InvalidPageID
	f.mu.Unlock()
	b.index.Del(uint64(id))
	return nil
}

// FlushAllPages flushes every resident dirty frame.
func (b *BufferManager) FlushAllPages() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.frameCounter; i++ {
		f := b.frames[i]
		if f == nil || f.PageID == page.InvalidPageID {
			continue
		}
		if err := b.writeFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// DiscardAllPages discards every resident frame.
func (b *BufferManager) DiscardAllPages() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.frameCounter; i++ {
		f := b.frames[i]
		if f == nil || f.PageID == page.InvalidPageID {
			continue
		}
		b.index.Del(uint64(f.PageID))
		f.mu.Lock()
		for j := range f.Data {
			f.Data[j] = 0
		}
		f.Dirty = false
		f.PageID = page.InvalidPageID
		f.mu.Unlock()
	}
	return nil
}

// GetFIFOList and GetLRUList are reserved accessor stubs per
// spec.md §4.2: this core does not implement a real replacement
// policy, so they return empty lists. A full implementation would
// populate these from the ristretto cache's own recency metadata.
func (b *BufferManager) GetFIFOList() []page.PageID { return nil }
func (b *BufferManager) GetLRUList() []page.PageID  { return nil }

// Close flushes all dirty frames, matching the destructor contract.
func (b *BufferManager) Close() error {
	return b.FlushAllPages()
}

func (f *Frame) RLock()   { f.mu.RLock() }
func (f *Frame) RUnlock() { f.mu.RUnlock() }
func (f *Frame) Lock()    { f.mu.Lock() }
func (f *Frame) Unlock()  { f.mu.Unlock() }

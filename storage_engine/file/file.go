// Package file implements the File abstraction the rest of the
// engine treats as an external collaborator: byte-granular
// read/write over a resizable block device. Two implementations are
// provided: an OS-file-backed one for real segment/log files, and an
// in-memory one for tests, mirroring the original implementation's
// File / TestFile split.
package file

import (
	"os"

	"github.com/pkg/errors"
)

// Mode selects read-only or read-write access, matching open_file's
// mode parameter.
type Mode int

const (
	READ Mode = iota
	WRITE
)

// File is the required external interface: open_file, size, resize,
// read_block, write_block.
type File interface {
	Size() (int64, error)
	Resize(newSize int64) error
	ReadBlock(offset int64, size int64, out []byte) error
	WriteBlock(in []byte, offset int64, size int64) error
	Close() error
}

// OSFile is a File backed by a real *os.File, one per segment or log
// file, in the idiom DaemonDB's disk manager uses (one handle per
// file id).
type OSFile struct {
	f    *os.File
	mode Mode
}

// OpenFile opens path under mode, creating it (and any missing
// directories are the caller's responsibility) if it does not exist
// and mode is WRITE.
func OpenFile(path string, mode Mode) (*OSFile, error) {
	flags := os.O_RDONLY
	if mode == WRITE {
		flags = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open_file %s", path)
	}
	return &OSFile{f: f, mode: mode}, nil
}

func (o *OSFile) Size() (int64, error) {
	fi, err := o.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "size")
	}
	return fi.Size(), nil
}

func (o *OSFile) Resize(newSize int64) error {
	if o.mode == READ {
		return errors.New("trying to resize a read only file")
	}
	return errors.Wrap(o.f.Truncate(newSize), "resize")
}

func (o *OSFile) ReadBlock(offset int64, size int64, out []byte) error {
	n, err := o.f.ReadAt(out[:size], offset)
	if err != nil {
		return errors.Wrap(err, "read_block")
	}
	if int64(n) != size {
		return errors.New("read_block: short read")
	}
	return nil
}

func (o *OSFile) WriteBlock(in []byte, offset int64, size int64) error {
	if o.mode == READ {
		return errors.New("trying to write to a read only file")
	}
	_, err := o.f.WriteAt(in[:size], offset)
	return errors.Wrap(err, "write_block")
}

func (o *OSFile) Close() error {
	return o.f.Close()
}

// MemFile is an in-memory File, grounded directly in
// original_source/src/storage/test_file.cc: same read-only and
// out-of-range error semantics, ported to Go errors instead of
// exceptions.
type MemFile struct {
	content []byte
	mode    Mode
}

// NewMemFile returns an empty in-memory file opened under mode.
func NewMemFile(mode Mode) *MemFile {
	return &MemFile{mode: mode}
}

func (m *MemFile) Size() (int64, error) {
	return int64(len(m.content)), nil
}

func (m *MemFile) Resize(newSize int64) error {
	if m.mode == READ {
		return errors.New("trying to resize a read only file")
	}
	if int64(len(m.content)) >= newSize {
		m.content = m.content[:newSize]
		return nil
	}
	grown := make([]byte, newSize)
	copy(grown, m.content)
	m.content = grown
	return nil
}

func (m *MemFile) ReadBlock(offset int64, size int64, out []byte) error {
	if offset+size > int64(len(m.content)) {
		return errors.New("trying to read past end of file")
	}
	copy(out[:size], m.content[offset:offset+size])
	return nil
}

func (m *MemFile) WriteBlock(in []byte, offset int64, size int64) error {
	if m.mode == READ {
		return errors.New("trying to write to a read only file")
	}
	if offset+size > int64(len(m.content)) {
		return errors.New("trying to write past end of file")
	}
	copy(m.content[offset:offset+size], in[:size])
	return nil
}

func (m *MemFile) Close() error {
	return nil
}

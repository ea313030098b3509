package disk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/Ignacio-DiLeva/pagedb/src/pkg/assert"
)

// BlockFile is a byte-addressable, resizable file. There are no alignment
// constraints: reads and writes may touch any [offset, offset+len) range
// inside the current logical size.
type BlockFile interface {
	Size() uint64
	Resize(newSize uint64) error
	ReadBlock(offset uint64, dst []byte) error
	WriteBlock(src []byte, offset uint64) error
}

// File backs a BlockFile with an afero file. Resizing past the end
// zero-extends, so a freshly grown range reads as zeroes until written.
type File struct {
	f    afero.File
	size uint64
}

var _ BlockFile = &File{}

func OpenBlockFile(fs afero.Fs, path string) (*File, error) {
	f, err := fs.OpenFile(filepath.Clean(path), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open block file %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat block file %s: %w", path, err)
	}

	//nolint:gosec
	return &File{f: f, size: uint64(info.Size())}, nil
}

func (f *File) Size() uint64 {
	return f.size
}

func (f *File) Resize(newSize uint64) error {
	//nolint:gosec
	if err := f.f.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("resize to %d: %w", newSize, err)
	}

	f.size = newSize

	return nil
}

func (f *File) ReadBlock(offset uint64, dst []byte) error {
	assert.Assert(
		offset+uint64(len(dst)) <= f.size,
		"read [%d, %d) beyond file size %d",
		offset, offset+uint64(len(dst)), f.size,
	)

	//nolint:gosec
	if _, err := f.f.ReadAt(dst, int64(offset)); err != nil {
		return fmt.Errorf("read %d bytes at %d: %w", len(dst), offset, err)
	}

	return nil
}

func (f *File) WriteBlock(src []byte, offset uint64) error {
	assert.Assert(
		offset+uint64(len(src)) <= f.size,
		"write [%d, %d) beyond file size %d",
		offset, offset+uint64(len(src)), f.size,
	)

	//nolint:gosec
	if _, err := f.f.WriteAt(src, int64(offset)); err != nil {
		return fmt.Errorf("write %d bytes at %d: %w", len(src), offset, err)
	}

	return nil
}

func (f *File) Close() error {
	return f.f.Close()
}

package disk

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
)

const PageSize = 4096

// Manager performs page-granular I/O on segment files. Each FileID maps to
// one file under baseDir; pages live at PageNo*PageSize. Reading a page that
// the file does not cover yet yields a zero page.
type Manager struct {
	fs      afero.Fs
	baseDir string

	mu    sync.Mutex
	files map[common.FileID]afero.File
}

func NewManager(fs afero.Fs, baseDir string) *Manager {
	return &Manager{
		fs:      fs,
		baseDir: baseDir,
		files:   make(map[common.FileID]afero.File),
	}
}

func (m *Manager) file(id common.FileID) (afero.File, error) {
	if f, ok := m.files[id]; ok {
		return f, nil
	}

	path := filepath.Join(m.baseDir, fmt.Sprintf("%d.seg", id))

	f, err := m.fs.OpenFile(filepath.Clean(path), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open segment file %s: %w", path, err)
	}

	m.files[id] = f

	return f, nil
}

func (m *Manager) ReadPage(pageID common.PageID, dst []byte) error {
	if len(dst) != PageSize {
		return fmt.Errorf("page buffer must be %d bytes, got %d", PageSize, len(dst))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.file(pageID.FileID())
	if err != nil {
		return err
	}

	//nolint:gosec
	offset := int64(uint64(pageID.PageNo()) * PageSize)

	n, err := f.ReadAt(dst, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read page %d of file %d: %w", pageID.PageNo(), pageID.FileID(), err)
	}

	// a page past the end of the file starts out as zeroes
	clear(dst[n:])

	return nil
}

func (m *Manager) WritePage(pageID common.PageID, src []byte) error {
	if len(src) != PageSize {
		return fmt.Errorf("page buffer must be %d bytes, got %d", PageSize, len(src))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.file(pageID.FileID())
	if err != nil {
		return err
	}

	//nolint:gosec
	offset := int64(uint64(pageID.PageNo()) * PageSize)

	if _, err := f.WriteAt(src, offset); err != nil {
		return fmt.Errorf("write page %d of file %d: %w", pageID.PageNo(), pageID.FileID(), err)
	}

	return nil
}

// FileSize reports the current byte size of a segment file.
func (m *Manager) FileSize(id common.FileID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.file(id)
	if err != nil {
		return 0, err
	}

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat segment file %d: %w", id, err)
	}

	//nolint:gosec
	return uint64(info.Size()), nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id, f := range m.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close segment file %d: %w", id, err)
		}
	}

	m.files = make(map[common.FileID]afero.File)

	return firstErr
}

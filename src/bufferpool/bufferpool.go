package bufferpool

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Ignacio-DiLeva/pagedb/src/pkg/assert"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
	"github.com/Ignacio-DiLeva/pagedb/src/storage/disk"
)

const noFrame = ^uint64(0)

var ErrNoSuchPage = errors.New("no such page")

// Frame is one resident page. Its data is the raw page image; callers address
// tuple bytes by offset into Data.
type Frame struct {
	pageID   common.PageID
	data     [disk.PageSize]byte
	pinCount int
	dirty    bool
}

func (f *Frame) PageID() common.PageID {
	return f.pageID
}

func (f *Frame) Data() []byte {
	return f.data[:]
}

func (f *Frame) IsDirty() bool {
	return f.dirty
}

// BufferManager is the page cache contract consumed by the heap, the
// transaction manager, and the log manager.
type BufferManager interface {
	FixPage(pageID common.PageID, exclusive bool) (*Frame, error)
	UnfixPage(frame *Frame, dirty bool)
	FlushPage(pageID common.PageID) error
	FlushAllPages() error
	// WriteThrough writes a resident page back to disk without touching its
	// dirty state. Commit durability relies on it: the page becomes durable
	// yet stays visible to a later dirty-page snapshot.
	WriteThrough(pageID common.PageID) error
	GetDirtyPageIDs() []common.PageID
	DiscardAllPages()
}

type Manager struct {
	poolSize    uint64
	pageToFrame map[common.PageID]uint64
	frames      []Frame
	emptyFrames []uint64

	replacer Replacer

	diskManager *disk.Manager

	mu sync.Mutex
}

var _ BufferManager = &Manager{}

func New(poolSize uint64, replacer Replacer, diskManager *disk.Manager) *Manager {
	assert.Assert(poolSize > 0, "pool size must be greater than zero")

	emptyFrames := make([]uint64, poolSize)
	for i := uint64(0); i < poolSize; i++ {
		emptyFrames[i] = i
	}

	return &Manager{
		poolSize:    poolSize,
		pageToFrame: make(map[common.PageID]uint64),
		frames:      make([]Frame, poolSize),
		emptyFrames: emptyFrames,
		replacer:    replacer,
		diskManager: diskManager,
	}
}

// FixPage pins the page in memory, faulting it in from disk if necessary.
// The exclusive flag is part of the contract for callers that latch pages;
// the pool itself serializes internally.
func (m *Manager) FixPage(pageID common.PageID, _ bool) (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID, ok := m.pageToFrame[pageID]; ok {
		m.pin(frameID)
		return &m.frames[frameID], nil
	}

	frameID, err := m.reserveFrame()
	if err != nil {
		return nil, err
	}

	frame := &m.frames[frameID]

	if err := m.diskManager.ReadPage(pageID, frame.data[:]); err != nil {
		m.releaseFrame(frameID)
		return nil, err
	}

	frame.pageID = pageID
	frame.pinCount = 1
	frame.dirty = false

	m.pageToFrame[pageID] = frameID
	m.replacer.Pin(frameID)

	return frame, nil
}

func (m *Manager) UnfixPage(frame *Frame, dirty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageToFrame[frame.pageID]
	assert.Assert(ok, "unfix of a non-resident page %d", frame.pageID)
	assert.Assert(frame.pinCount > 0, "invalid pin count on page %d", frame.pageID)

	if dirty {
		frame.dirty = true
	}

	frame.pinCount--
	if frame.pinCount == 0 {
		m.replacer.Unpin(frameID)
	}
}

func (m *Manager) pin(frameID uint64) {
	m.frames[frameID].pinCount++
	m.replacer.Pin(frameID)
}

// reserveFrame hands out an empty frame, or evicts the LRU victim, writing it
// back first when dirty.
func (m *Manager) reserveFrame() (uint64, error) {
	if len(m.emptyFrames) > 0 {
		id := m.emptyFrames[0]
		m.emptyFrames = m.emptyFrames[1:]

		return id, nil
	}

	victimID, err := m.replacer.ChooseVictim()
	if err != nil {
		return noFrame, fmt.Errorf("buffer pool is full: %w", err)
	}

	victim := &m.frames[victimID]
	assert.Assert(victim.pinCount == 0, "chose a pinned victim")

	if victim.dirty {
		if err := m.diskManager.WritePage(victim.pageID, victim.data[:]); err != nil {
			return noFrame, err
		}
	}

	delete(m.pageToFrame, victim.pageID)

	return victimID, nil
}

func (m *Manager) releaseFrame(frameID uint64) {
	m.frames[frameID] = Frame{}
	m.emptyFrames = append(m.emptyFrames, frameID)
}

func (m *Manager) FlushPage(pageID common.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageToFrame[pageID]
	if !ok {
		return nil
	}

	frame := &m.frames[frameID]
	if !frame.dirty {
		return nil
	}

	if err := m.diskManager.WritePage(pageID, frame.data[:]); err != nil {
		return fmt.Errorf("flush page %d: %w", pageID, err)
	}

	frame.dirty = false

	return nil
}

func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.frames {
		frame := &m.frames[i]
		if !frame.dirty {
			continue
		}

		if err := m.diskManager.WritePage(frame.pageID, frame.data[:]); err != nil {
			return fmt.Errorf("flush page %d: %w", frame.pageID, err)
		}

		frame.dirty = false
	}

	return nil
}

func (m *Manager) WriteThrough(pageID common.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageToFrame[pageID]
	if !ok {
		// evicting the page already wrote it back
		return nil
	}

	frame := &m.frames[frameID]
	if err := m.diskManager.WritePage(pageID, frame.data[:]); err != nil {
		return fmt.Errorf("write through page %d: %w", pageID, err)
	}

	return nil
}

// GetDirtyPageIDs snapshots the ids of all dirty resident pages, sorted for a
// deterministic flush order.
func (m *Manager) GetDirtyPageIDs() []common.PageID {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]common.PageID, 0)
	for pageID, frameID := range m.pageToFrame {
		if m.frames[frameID].dirty {
			ids = append(ids, pageID)
		}
	}

	slices.Sort(ids)

	return ids
}

// DiscardAllPages drops every resident page without writing anything back.
// Simulates the buffer cache vanishing in a crash.
func (m *Manager) DiscardAllPages() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.frames {
		assert.Assert(
			m.frames[i].pinCount == 0,
			"discard with page %d still pinned", m.frames[i].pageID,
		)

		m.frames[i] = Frame{}
	}

	m.pageToFrame = make(map[common.PageID]uint64)

	m.emptyFrames = make([]uint64, m.poolSize)
	for i := uint64(0); i < m.poolSize; i++ {
		m.emptyFrames[i] = i
	}

	for {
		if _, err := m.replacer.ChooseVictim(); err != nil {
			break
		}
	}
}

// PinnedPages reports how many frames are currently pinned. Test helper.
func (m *Manager) PinnedPages() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := range m.frames {
		if m.frames[i].pinCount > 0 {
			n++
		}
	}

	return n
}

package heap

import (
	"fmt"
	"slices"

	"github.com/Ignacio-DiLeva/pagedb/src/bufferpool"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/assert"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
	"github.com/Ignacio-DiLeva/pagedb/src/recovery"
)

// Segment lays tuples into the slotted pages of one segment file. Every
// tuple write goes through the log manager before it touches the page, which
// is what lets the pool steal dirty pages at any time.
type Segment struct {
	fileID    common.FileID
	pageCount uint64

	wal  *recovery.LogManager
	pool bufferpool.BufferManager
}

func NewSegment(
	fileID common.FileID,
	wal *recovery.LogManager,
	pool bufferpool.BufferManager,
) *Segment {
	return &Segment{
		fileID: fileID,
		wal:    wal,
		pool:   pool,
	}
}

// OpenSegment restores a segment whose file already holds pages.
func OpenSegment(
	fileID common.FileID,
	pages uint64,
	wal *recovery.LogManager,
	pool bufferpool.BufferManager,
) *Segment {
	s := NewSegment(fileID, wal, pool)
	s.pageCount = pages

	return s
}

func (s *Segment) FileID() common.FileID {
	return s.fileID
}

func (s *Segment) PageCount() uint64 {
	return s.pageCount
}

// PageID maps a segment-local page number to its overall page id.
func (s *Segment) PageID(pageNo common.PageNo) common.PageID {
	return common.NewPageID(s.fileID, pageNo)
}

// Allocate reserves a slot of the given size on the last page, growing the
// segment by one page when it is full. The directory update is not logged;
// it becomes durable with the page itself.
func (s *Segment) Allocate(size uint16) (common.TID, error) {
	if s.pageCount == 0 {
		s.pageCount = 1
	}

	pageNo := common.PageNo(s.pageCount - 1)

	frame, err := s.pool.FixPage(s.PageID(pageNo), true)
	if err != nil {
		return 0, fmt.Errorf("allocate in segment %d: %w", s.fileID, err)
	}

	slot := viewPage(frame.Data()).allocate(size)
	if slot.IsNone() {
		s.pool.UnfixPage(frame, false)

		pageNo = common.PageNo(s.pageCount)
		s.pageCount++

		frame, err = s.pool.FixPage(s.PageID(pageNo), true)
		if err != nil {
			return 0, fmt.Errorf("allocate in segment %d: %w", s.fileID, err)
		}

		slot = viewPage(frame.Data()).allocate(size)
		assert.Assert(slot.IsSome(), "tuple of size %d does not fit an empty page", size)
	}

	s.pool.UnfixPage(frame, true)

	return common.NewTID(pageNo, slot.Unwrap()), nil
}

// Write stores tuple bytes into an allocated slot on behalf of a
// transaction. The before/after images are appended to the log first; only
// then is the page mutated.
func (s *Segment) Write(tid common.TID, data []byte, txnID common.TxnID) error {
	pageID := s.PageID(tid.PageNo())

	frame, err := s.pool.FixPage(pageID, true)
	if err != nil {
		return fmt.Errorf("write tuple %d: %w", tid, err)
	}

	offset, length := viewPage(frame.Data()).slot(tid.Slot())
	assert.Assert(
		len(data) == int(length),
		"tuple size %d does not match slot size %d", len(data), length,
	)

	beforeImg := slices.Clone(frame.Data()[offset : offset+length])

	err = s.wal.Update(txnID, pageID, uint64(length), uint64(offset), beforeImg, data)
	if err != nil {
		s.pool.UnfixPage(frame, false)
		return fmt.Errorf("write tuple %d: %w", tid, err)
	}

	copy(frame.Data()[offset:offset+length], data)

	s.pool.UnfixPage(frame, true)

	return nil
}

// Read copies the tuple bytes out of the page.
func (s *Segment) Read(tid common.TID) ([]byte, error) {
	frame, err := s.pool.FixPage(s.PageID(tid.PageNo()), false)
	if err != nil {
		return nil, fmt.Errorf("read tuple %d: %w", tid, err)
	}

	offset, length := viewPage(frame.Data()).slot(tid.Slot())
	data := slices.Clone(frame.Data()[offset : offset+length])

	s.pool.UnfixPage(frame, false)

	return data, nil
}

// Scan visits every allocated tuple in the segment. The callback returns
// false to stop early.
func (s *Segment) Scan(fn func(tid common.TID, tuple []byte) bool) error {
	for pageNo := common.PageNo(0); uint64(pageNo) < s.pageCount; pageNo++ {
		frame, err := s.pool.FixPage(s.PageID(pageNo), false)
		if err != nil {
			return fmt.Errorf("scan segment %d: %w", s.fileID, err)
		}

		view := viewPage(frame.Data())
		for slot := uint16(0); slot < view.slotCount(); slot++ {
			offset, length := view.slot(slot)
			if !fn(common.NewTID(pageNo, slot), frame.Data()[offset:offset+length]) {
				s.pool.UnfixPage(frame, false)
				return nil
			}
		}

		s.pool.UnfixPage(frame, false)
	}

	return nil
}

package heap

import (
	"encoding/binary"

	"github.com/Ignacio-DiLeva/pagedb/src/pkg/assert"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/optional"
	"github.com/Ignacio-DiLeva/pagedb/src/storage/disk"
)

// Slotted-page layout over a raw page image:
//
//	[0:2)          slot count
//	[2:4)          free-space end (0 on a never-touched page, meaning PageSize)
//	[4 + 4*i ...)  slot directory: tuple offset u16, tuple length u16
//
// Tuple bytes grow downward from the free-space end, the directory grows
// upward. Only tuple bytes are logged through the WAL; the header and
// directory ride along when the page is flushed.
const (
	pageHeaderSize = 4
	slotEntrySize  = 4
)

var pageOrder = binary.LittleEndian

type pageView struct {
	data []byte
}

func viewPage(data []byte) pageView {
	assert.Assert(len(data) == disk.PageSize, "page image must be %d bytes", disk.PageSize)
	return pageView{data: data}
}

func (p pageView) slotCount() uint16 {
	return pageOrder.Uint16(p.data[0:2])
}

func (p pageView) freeEnd() uint16 {
	v := pageOrder.Uint16(p.data[2:4])
	if v == 0 {
		return disk.PageSize
	}

	return v
}

func (p pageView) slot(id uint16) (offset, length uint16) {
	assert.Assert(id < p.slotCount(), "slot %d out of range (%d slots)", id, p.slotCount())

	base := pageHeaderSize + int(id)*slotEntrySize
	return pageOrder.Uint16(p.data[base : base+2]), pageOrder.Uint16(p.data[base+2 : base+4])
}

// allocate reserves a slot for a tuple of the given size and returns its slot
// number, or None when the page has no room left.
func (p pageView) allocate(size uint16) optional.Optional[uint16] {
	assert.Assert(size > 0, "zero-sized tuple")

	count := p.slotCount()
	freeEnd := p.freeEnd()

	dirEnd := pageHeaderSize + (int(count)+1)*slotEntrySize
	if int(freeEnd) < dirEnd+int(size) {
		return optional.None[uint16]()
	}

	offset := freeEnd - size

	base := pageHeaderSize + int(count)*slotEntrySize
	pageOrder.PutUint16(p.data[base:base+2], offset)
	pageOrder.PutUint16(p.data[base+2:base+4], size)

	pageOrder.PutUint16(p.data[0:2], count+1)
	pageOrder.PutUint16(p.data[2:4], offset)

	return optional.Some(count)
}

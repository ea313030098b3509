package recovery

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Ignacio-DiLeva/pagedb/src/pkg/assert"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
	"github.com/Ignacio-DiLeva/pagedb/src/storage/disk"
)

// Encoded sizes. Every record is [tag u8] followed by fixed u64 fields;
// UPDATE additionally carries the two images.
const (
	tagSize = 1
	u64Size = 8

	txnRecordSize    = tagSize + u64Size
	bareRecordSize   = tagSize
	updateHeaderSize = tagSize + 4*u64Size
)

// All u64 fields are little-endian.
var byteOrder = binary.LittleEndian

var ErrCorruptRecord = errors.New("corrupt log record")

func updateRecordSize(length uint64) uint64 {
	return updateHeaderSize + 2*length
}

func writeU64(f disk.BlockFile, offset uint64, v uint64) error {
	var buf [u64Size]byte
	byteOrder.PutUint64(buf[:], v)

	return f.WriteBlock(buf[:], offset)
}

func readU64(f disk.BlockFile, offset uint64) (uint64, error) {
	var buf [u64Size]byte
	if err := f.ReadBlock(offset, buf[:]); err != nil {
		return 0, err
	}

	return byteOrder.Uint64(buf[:]), nil
}

func writeTag(f disk.BlockFile, offset uint64, tag RecordType) error {
	return f.WriteBlock([]byte{byte(tag)}, offset)
}

func readTag(f disk.BlockFile, offset uint64) (RecordType, error) {
	var buf [tagSize]byte
	if err := f.ReadBlock(offset, buf[:]); err != nil {
		return RecordInvalid, err
	}

	return RecordType(buf[0]), nil
}

// appendTxnRecord lays down a BEGIN/COMMIT/ABORT record at offset. The file
// is grown first, the payload written next, and the tag byte last, so a scan
// never sees a half-written record under a valid tag.
func appendTxnRecord(f disk.BlockFile, offset uint64, tag RecordType, txnID common.TxnID) error {
	if err := f.Resize(offset + txnRecordSize); err != nil {
		return err
	}

	if err := writeU64(f, offset+tagSize, uint64(txnID)); err != nil {
		return err
	}

	return writeTag(f, offset, tag)
}

// appendBareRecord lays down a record that is nothing but its tag
// (CHECKPOINT and the fuzzy-checkpoint brackets).
func appendBareRecord(f disk.BlockFile, offset uint64, tag RecordType) error {
	if err := f.Resize(offset + bareRecordSize); err != nil {
		return err
	}

	return writeTag(f, offset, tag)
}

func appendUpdateRecord(f disk.BlockFile, offset uint64, u updateInfo) error {
	assert.Assert(
		uint64(len(u.beforeImg)) == u.length && uint64(len(u.afterImg)) == u.length,
		"image sizes %d/%d do not match update length %d",
		len(u.beforeImg), len(u.afterImg), u.length,
	)

	if err := f.Resize(offset + updateRecordSize(u.length)); err != nil {
		return err
	}

	fields := []uint64{uint64(u.txnID), uint64(u.pageID), u.length, u.offset}
	at := offset + tagSize
	for _, v := range fields {
		if err := writeU64(f, at, v); err != nil {
			return err
		}
		at += u64Size
	}

	if err := f.WriteBlock(u.beforeImg, at); err != nil {
		return err
	}

	if err := f.WriteBlock(u.afterImg, at+u.length); err != nil {
		return err
	}

	return writeTag(f, offset, RecordUpdate)
}

// readTxnID reads the transaction id of the record starting at offset.
func readTxnID(f disk.BlockFile, offset uint64) (common.TxnID, error) {
	v, err := readU64(f, offset+tagSize)
	return common.TxnID(v), err
}

// readUpdateLength reads just the length field of an UPDATE record, enough to
// advance a scan cursor past it.
func readUpdateLength(f disk.BlockFile, offset uint64) (uint64, error) {
	length, err := readU64(f, offset+tagSize+2*u64Size)
	if err != nil {
		return 0, err
	}

	if updateRecordSize(length) > f.Size()-offset {
		return 0, fmt.Errorf(
			"%w: update at %d claims %d image bytes past end of log",
			ErrCorruptRecord, offset, length,
		)
	}

	return length, nil
}

// readUpdateRecord decodes the full UPDATE record at offset.
func readUpdateRecord(f disk.BlockFile, offset uint64) (updateInfo, error) {
	length, err := readUpdateLength(f, offset)
	if err != nil {
		return updateInfo{}, err
	}

	var u updateInfo
	u.length = length

	at := offset + tagSize

	txnID, err := readU64(f, at)
	if err != nil {
		return updateInfo{}, err
	}
	u.txnID = common.TxnID(txnID)

	pageID, err := readU64(f, at+u64Size)
	if err != nil {
		return updateInfo{}, err
	}
	u.pageID = common.PageID(pageID)

	u.offset, err = readU64(f, at+3*u64Size)
	if err != nil {
		return updateInfo{}, err
	}

	u.beforeImg = make([]byte, length)
	if err := f.ReadBlock(at+4*u64Size, u.beforeImg); err != nil {
		return updateInfo{}, err
	}

	u.afterImg = make([]byte, length)
	if err := f.ReadBlock(at+4*u64Size+length, u.afterImg); err != nil {
		return updateInfo{}, err
	}

	return u, nil
}

package recovery

import "github.com/Ignacio-DiLeva/pagedb/src/pkg/common"

// RecordType is the single-byte tag at the start of every log record.
// A zero tag terminates scans: the tag byte of an append is written last, so
// a torn tail reads as RecordInvalid instead of a garbage record.
type RecordType byte

const (
	RecordInvalid RecordType = iota
	RecordAbort
	RecordCommit
	RecordUpdate
	RecordBegin
	RecordCheckpoint
	RecordFuzzyCheckpointBegin
	RecordFuzzyCheckpointEnd
)

// recordTypes lists every countable record kind in tag order.
var recordTypes = []RecordType{
	RecordAbort,
	RecordCommit,
	RecordUpdate,
	RecordBegin,
	RecordCheckpoint,
	RecordFuzzyCheckpointBegin,
	RecordFuzzyCheckpointEnd,
}

func (t RecordType) String() string {
	switch t {
	case RecordInvalid:
		return "INVALID"
	case RecordAbort:
		return "ABORT"
	case RecordCommit:
		return "COMMIT"
	case RecordUpdate:
		return "UPDATE"
	case RecordBegin:
		return "BEGIN"
	case RecordCheckpoint:
		return "CHECKPOINT"
	case RecordFuzzyCheckpointBegin:
		return "BEGIN_FUZZY_CHECKPOINT"
	case RecordFuzzyCheckpointEnd:
		return "END_FUZZY_CHECKPOINT"
	}

	return "UNKNOWN"
}

// updateInfo is one decoded UPDATE record. The images own their bytes and are
// exactly length bytes each: the page contents of
// [offset, offset+length) right before and right after the change.
type updateInfo struct {
	txnID  common.TxnID
	pageID common.PageID
	length uint64
	offset uint64

	beforeImg []byte
	afterImg  []byte
}

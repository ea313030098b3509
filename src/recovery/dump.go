package recovery

import (
	"fmt"
	"io"

	"github.com/Ignacio-DiLeva/pagedb/src/storage/disk"
)

// DumpLog writes a human-readable listing of the log tape, one record per
// line. The scan stops at the first invalid tag, like recovery does.
func DumpLog(f disk.BlockFile, w io.Writer) error {
	size := f.Size()

	offset := uint64(0)
	for offset < size {
		tag, err := readTag(f, offset)
		if err != nil {
			return err
		}

		switch tag {
		case RecordInvalid:
			return nil

		case RecordCheckpoint, RecordFuzzyCheckpointBegin, RecordFuzzyCheckpointEnd:
			if _, err := fmt.Fprintf(w, "%08d  %s\n", offset, tag); err != nil {
				return err
			}

			offset += bareRecordSize

		case RecordBegin, RecordCommit, RecordAbort:
			txnID, err := readTxnID(f, offset)
			if err != nil {
				return err
			}

			if _, err := fmt.Fprintf(w, "%08d  %s txn=%d\n", offset, tag, txnID); err != nil {
				return err
			}

			offset += txnRecordSize

		case RecordUpdate:
			u, err := readUpdateRecord(f, offset)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(
				w,
				"%08d  %s txn=%d page=%d offset=%d length=%d\n",
				offset, tag, u.txnID, u.pageID, u.offset, u.length,
			)
			if err != nil {
				return err
			}

			offset += updateRecordSize(u.length)

		default:
			return fmt.Errorf("%w: unknown tag %d at offset %d", ErrCorruptRecord, tag, offset)
		}
	}

	return nil
}

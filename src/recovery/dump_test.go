package recovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
)

func TestDumpLogListsRecords(t *testing.T) {
	lm, pool := newTestLogManager(t)

	require.NoError(t, lm.Begin(1))
	require.NoError(t, lm.Update(1, common.NewPageID(9, 0), 8, 32, make([]byte, 8), make([]byte, 8)))
	require.NoError(t, lm.Commit(1))
	require.NoError(t, lm.Checkpoint(pool))

	var sb strings.Builder
	require.NoError(t, DumpLog(lm.file, &sb))

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 4)

	assert.Contains(t, lines[0], "BEGIN txn=1")
	assert.Contains(t, lines[1], "UPDATE txn=1")
	assert.Contains(t, lines[1], "offset=32 length=8")
	assert.Contains(t, lines[2], "COMMIT txn=1")
	assert.Contains(t, lines[3], "CHECKPOINT")
}

func TestDumpLogStopsAtInvalidTag(t *testing.T) {
	lm, _ := newTestLogManager(t)

	require.NoError(t, lm.Begin(1))

	// reserved-but-unstamped space at the tail must not be listed
	require.NoError(t, lm.file.Resize(lm.CurrentOffset()+txnRecordSize))

	var sb strings.Builder
	require.NoError(t, DumpLog(lm.file, &sb))

	assert.Equal(t, 1, strings.Count(sb.String(), "\n"))
}

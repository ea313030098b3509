package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ignacio-DiLeva/pagedb/src/recovery"
	"github.com/Ignacio-DiLeva/pagedb/src/storage/disk"
)

func TestLogCollectorExportsCounters(t *testing.T) {
	walFile, err := disk.OpenBlockFile(afero.NewMemMapFs(), "wal.log")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, walFile.Close()) })

	wal := recovery.NewLogManager(walFile, zap.NewNop().Sugar())

	require.NoError(t, wal.Begin(1))
	require.NoError(t, wal.Commit(1))
	require.NoError(t, wal.Begin(2))

	collector := NewLogCollector(wal)

	expected := `
# HELP pagedb_active_transactions Transactions with a BEGIN record but no COMMIT or ABORT.
# TYPE pagedb_active_transactions gauge
pagedb_active_transactions 1
# HELP pagedb_log_records_total Number of records appended to the write-ahead log, by type.
# TYPE pagedb_log_records_total counter
pagedb_log_records_total{type="ABORT"} 0
pagedb_log_records_total{type="BEGIN"} 2
pagedb_log_records_total{type="BEGIN_FUZZY_CHECKPOINT"} 0
pagedb_log_records_total{type="CHECKPOINT"} 0
pagedb_log_records_total{type="COMMIT"} 1
pagedb_log_records_total{type="END_FUZZY_CHECKPOINT"} 0
pagedb_log_records_total{type="UPDATE"} 0
`

	err = testutil.CollectAndCompare(
		collector,
		strings.NewReader(expected),
		"pagedb_log_records_total",
		"pagedb_active_transactions",
	)
	require.NoError(t, err)
}

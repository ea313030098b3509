package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Ignacio-DiLeva/pagedb/src/recovery"
)

// LogCollector exports the log manager's per-type record counters and the
// size of the tape. The counters are read on scrape; the log manager itself
// stays metrics-free.
type LogCollector struct {
	wal *recovery.LogManager

	records *prometheus.Desc
	size    *prometheus.Desc
	active  *prometheus.Desc
}

var _ prometheus.Collector = &LogCollector{}

func NewLogCollector(wal *recovery.LogManager) *LogCollector {
	return &LogCollector{
		wal: wal,
		records: prometheus.NewDesc(
			"pagedb_log_records_total",
			"Number of records appended to the write-ahead log, by type.",
			[]string{"type"},
			nil,
		),
		size: prometheus.NewDesc(
			"pagedb_log_size_bytes",
			"Current size of the write-ahead log file.",
			nil,
			nil,
		),
		active: prometheus.NewDesc(
			"pagedb_active_transactions",
			"Transactions with a BEGIN record but no COMMIT or ABORT.",
			nil,
			nil,
		),
	}
}

func (c *LogCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
	ch <- c.size
	ch <- c.active
}

func (c *LogCollector) Collect(ch chan<- prometheus.Metric) {
	for _, t := range []recovery.RecordType{
		recovery.RecordAbort,
		recovery.RecordCommit,
		recovery.RecordUpdate,
		recovery.RecordBegin,
		recovery.RecordCheckpoint,
		recovery.RecordFuzzyCheckpointBegin,
		recovery.RecordFuzzyCheckpointEnd,
	} {
		ch <- prometheus.MustNewConstMetric(
			c.records,
			prometheus.CounterValue,
			float64(c.wal.TotalRecordsOfType(t)),
			t.String(),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.size,
		prometheus.GaugeValue,
		float64(c.wal.CurrentOffset()),
	)

	ch <- prometheus.MustNewConstMetric(
		c.active,
		prometheus.GaugeValue,
		float64(c.wal.ActiveTxns()),
	)
}

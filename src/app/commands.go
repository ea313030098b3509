package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/Ignacio-DiLeva/pagedb/src/metrics"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
	"github.com/Ignacio-DiLeva/pagedb/src/recovery"
	"github.com/Ignacio-DiLeva/pagedb/src/storage/disk"
	"github.com/Ignacio-DiLeva/pagedb/src/storage/heap"
)

// Inspect prints the records of the log tape, one per line.
func Inspect(configPath string, w io.Writer) error {
	env := mustLoadEnv(configPath)

	walFile, err := disk.OpenBlockFile(afero.NewOsFs(), filepath.Join(env.DataDir, walFileName))
	if err != nil {
		return err
	}
	defer func() { _ = walFile.Close() }()

	return recovery.DumpLog(walFile, w)
}

// Recover opens the database, runs crash recovery, and prints the rebuilt
// record counters.
func Recover(configPath string, w io.Writer) error {
	db, err := openDatabase(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := db.Recover(); err != nil {
		return err
	}

	for _, t := range []recovery.RecordType{
		recovery.RecordBegin,
		recovery.RecordUpdate,
		recovery.RecordCommit,
		recovery.RecordAbort,
		recovery.RecordCheckpoint,
		recovery.RecordFuzzyCheckpointBegin,
		recovery.RecordFuzzyCheckpointEnd,
	} {
		if _, err := fmt.Fprintf(w, "%-24s %d\n", t, db.wal.TotalRecordsOfType(t)); err != nil {
			return err
		}
	}

	_, err = fmt.Fprintf(w, "%-24s %d\n", "total", db.wal.TotalRecords())

	return err
}

const demoSegmentID = 100

// Demo recovers the database, then runs a small transactional workload with
// a quiescent and a fuzzy checkpoint, while serving the log counters over
// HTTP for scraping. Stops when the context is cancelled or the workload is
// done.
func Demo(ctx context.Context, configPath string) error {
	db, err := openDatabase(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := db.Recover(); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	if err := registry.Register(metrics.NewLogCollector(db.wal)); err != nil {
		return err
	}

	server := &http.Server{
		Addr:              db.env.MetricsAddr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		defer cancel()
		return db.runDemoWorkload(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// runDemoWorkload brackets a few transactions over one heap segment,
// interleaving both checkpoint flavors. Access to the engine stays
// single-threaded; only the metrics listener runs alongside.
func (db *Database) runDemoWorkload(ctx context.Context) error {
	pages, err := db.OpenSegmentPages(demoSegmentID)
	if err != nil {
		return err
	}

	segment := heap.OpenSegment(demoSegmentID, pages, db.wal, db.pool)

	insert := func(txnID common.TxnID, value uint64) error {
		tuple := make([]byte, 16)
		binary.LittleEndian.PutUint64(tuple[0:8], demoSegmentID)
		binary.LittleEndian.PutUint64(tuple[8:16], value)

		tid, err := segment.Allocate(uint16(len(tuple)))
		if err != nil {
			return err
		}

		if err := segment.Write(tid, tuple, txnID); err != nil {
			return err
		}

		db.txns.AddModifiedPage(txnID, segment.PageID(tid.PageNo()))

		return nil
	}

	for round := uint64(0); round < 4; round++ {
		if err := ctx.Err(); err != nil {
			return nil
		}

		txnID, err := db.txns.Begin()
		if err != nil {
			return err
		}

		for v := uint64(0); v < 8; v++ {
			if err := insert(txnID, round*100+v); err != nil {
				return err
			}
		}

		switch round {
		case 1:
			if err := db.wal.Checkpoint(db.pool); err != nil {
				return err
			}
		case 2:
			steps, err := db.wal.FuzzyCheckpointBegin(db.pool)
			if err != nil {
				return err
			}

			for step := range steps {
				if err := db.wal.FuzzyCheckpointDoStep(db.pool, step); err != nil {
					return err
				}
			}

			if err := db.wal.FuzzyCheckpointEnd(); err != nil {
				return err
			}
		}

		if err := db.txns.Commit(txnID); err != nil {
			return err
		}
	}

	db.log.Infow(
		"demo workload finished",
		"records", db.wal.TotalRecords(),
		"logBytes", db.wal.CurrentOffset(),
	)

	return nil
}

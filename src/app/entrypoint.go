package app

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Ignacio-DiLeva/pagedb/src"
	"github.com/Ignacio-DiLeva/pagedb/src/bufferpool"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/common"
	"github.com/Ignacio-DiLeva/pagedb/src/pkg/utils"
	"github.com/Ignacio-DiLeva/pagedb/src/recovery"
	"github.com/Ignacio-DiLeva/pagedb/src/storage/disk"
	"github.com/Ignacio-DiLeva/pagedb/src/txns"
)

const walFileName = "wal.log"

// Database wires the storage engine together: segment files and the log file
// on one filesystem, the buffer pool over the disk manager, and the log and
// transaction managers on top.
type Database struct {
	env envVars
	log src.Logger

	fs      afero.Fs
	disk    *disk.Manager
	pool    *bufferpool.Manager
	walFile *disk.File
	wal     *recovery.LogManager
	txns    *txns.Manager
}

func openDatabase(configPath string) (*Database, error) {
	env := mustLoadEnv(configPath)

	var log src.Logger
	if env.Environment == EnvDev {
		log = utils.Must(zap.NewDevelopment()).Sugar().With("session", uuid.NewString())
	} else {
		log = utils.Must(zap.NewProduction()).Sugar().With("session", uuid.NewString())
	}

	dbFs := afero.NewOsFs()
	if err := dbFs.MkdirAll(env.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", env.DataDir, err)
	}

	diskManager := disk.NewManager(dbFs, env.DataDir)
	pool := bufferpool.New(env.PoolSize, bufferpool.NewLRUReplacer(), diskManager)

	walFile, err := disk.OpenBlockFile(dbFs, filepath.Join(env.DataDir, walFileName))
	if err != nil {
		return nil, err
	}

	wal := recovery.NewLogManager(walFile, log)

	return &Database{
		env:     env,
		log:     log,
		fs:      dbFs,
		disk:    diskManager,
		pool:    pool,
		walFile: walFile,
		wal:     wal,
		txns:    txns.NewManager(wal, pool),
	}, nil
}

// Recover replays the log against an empty buffer cache and flushes the
// patched pages back to the heap.
func (db *Database) Recover() error {
	if err := db.wal.Recover(db.pool); err != nil {
		return err
	}

	return db.pool.FlushAllPages()
}

// OpenSegmentPages reports how many pages a segment file currently holds.
func (db *Database) OpenSegmentPages(fileID uint64) (uint64, error) {
	size, err := db.disk.FileSize(common.FileID(fileID))
	if err != nil {
		return 0, err
	}

	return (size + disk.PageSize - 1) / disk.PageSize, nil
}

func (db *Database) Close() error {
	err := db.pool.FlushAllPages()

	if closeErr := db.disk.Close(); err == nil {
		err = closeErr
	}

	if closeErr := db.walFile.Close(); err == nil {
		err = closeErr
	}

	if db.log != nil {
		_ = db.log.Sync()
	}

	return err
}

package storage

import (
	"path/filepath"
	"time"
)

// Config carries every tunable the storage core recognizes.
type Config struct {
	NumPages             int
	PageSize             int // informational only: records the PageSize const; setting it does not change the page size
	SharedLockTimeout    time.Duration
	ExclusiveLockTimeout time.Duration
}

// DefaultConfig returns the documented out-of-the-box defaults.
func DefaultConfig() Config {
	return Config{
		NumPages:             100,
		PageSize:             PageSize,
		SharedLockTimeout:    DefaultSharedLockTimeout,
		ExclusiveLockTimeout: DefaultExclusiveLockTimeout,
	}
}

// Database is the process-wide handle bundling the catalog, buffer pool,
// and log file. It is an explicit value rather than a package-level
// singleton: callers construct one per process, or one per test.
type Database struct {
	Catalog    *Catalog
	BufferPool *BufferPool
	Log        *LogFile

	dataDir string
}

// Open wires a Database rooted at dataDir: a fresh Catalog, a BufferPool of
// the configured capacity, and a LogFile at <dataDir>/txdb.log. It does not
// run recovery; call Recover explicitly once every table has been
// registered with the catalog (recovery needs the catalog to resolve page
// images).
func Open(dataDir string, cfg Config) (*Database, error) {
	catalog := NewCatalog()
	bp := NewBufferPool(cfg.NumPages, catalog, cfg)
	lf, err := NewLogFile(filepath.Join(dataDir, "txdb.log"), bp, catalog)
	if err != nil {
		return nil, err
	}
	bp.SetLogFile(lf)
	return &Database{Catalog: catalog, BufferPool: bp, Log: lf, dataDir: dataDir}, nil
}

// Recover replays the WAL against the current catalog; call once at
// startup after every table has been registered.
func (db *Database) Recover() error {
	return db.Log.Recover()
}

// Shutdown writes a final checkpoint and truncates the log, so the next
// Open/Recover starts from as little replay work as possible.
func (db *Database) Shutdown() error {
	return db.Log.LogCheckpoint()
}

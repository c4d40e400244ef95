package storage

import (
	"log"
	"sync"
)

// BufferPool is the bounded page cache, the gatekeeper for every locked
// page access, and the sole mediator of transaction completion. It caches
// at most NumPages resident pages and evicts under a strict NO STEAL policy:
// a dirty page is never written to its heap file while its owning
// transaction is still live.
type BufferPool struct {
	mu       sync.Mutex
	pages    map[any]Page
	numPages int

	catalog *Catalog
	locks   *LockManager
	logFile *LogFile
	freq    *frequencySketch

	Logger *log.Logger
}

// NewBufferPool constructs a BufferPool with the given capacity, backed by
// catalog for resolving a PageID's owning DBFile. Call SetLogFile before
// any transaction commits or aborts.
func NewBufferPool(numPages int, catalog *Catalog, cfg Config) *BufferPool {
	return &BufferPool{
		pages:    make(map[any]Page),
		numPages: numPages,
		catalog:  catalog,
		locks:    NewLockManager(cfg.SharedLockTimeout, cfg.ExclusiveLockTimeout),
		freq:     newFrequencySketch(),
		Logger:   log.Default(),
	}
}

// SetLogFile wires the log manager in after construction, breaking the
// BufferPool/LogFile construction cycle (each needs a handle to the
// other) — mirrors Database's wiring in database.go.
func (bp *BufferPool) SetLogFile(lf *LogFile) { bp.logFile = lf }

// GetPage acquires the requested lock on pid (blocking, or failing with
// TransactionAborted on timeout), then returns the cached page, loading it
// from its owning heap file — evicting a clean victim first if the cache is
// full — if it is not yet resident.
func (bp *BufferPool) GetPage(tid TransactionID, pid PageID, perm RWPerm) (Page, error) {
	var err error
	if perm == ReadPerm {
		err = bp.locks.AcquireShared(tid, pid)
	} else {
		err = bp.locks.AcquireExclusive(tid, pid)
	}
	if err != nil {
		return nil, err
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()

	bp.freq.touch(pid)

	if pg, ok := bp.pages[pid.Key()]; ok {
		return pg, nil
	}

	for len(bp.pages) >= bp.numPages {
		if err := bp.evictPageLocked(); err != nil {
			return nil, err
		}
	}

	file, err := bp.catalog.FileForTable(pid.TableID())
	if err != nil {
		return nil, err
	}
	pg, err := file.ReadPage(pid.PageNo())
	if err != nil {
		return nil, err
	}
	bp.pages[pid.Key()] = pg
	return pg, nil
}

// ReleasePage drops only the lock portion of pid for tid, leaving any
// cached page untouched. Reserved for internal cleanup paths; callers that
// simply want to end a transaction should use TransactionComplete.
func (bp *BufferPool) ReleasePage(tid TransactionID, pid PageID) {
	bp.locks.Release(tid, pid)
}

// HoldsLock reports whether tid holds any lock (shared or exclusive) on pid.
func (bp *BufferPool) HoldsLock(tid TransactionID, pid PageID) bool {
	return bp.locks.HoldsLock(tid, pid)
}

// InsertTuple dispatches to tableID's heap file, marks the returned page
// dirty under tid, and caches it.
func (bp *BufferPool) InsertTuple(tid TransactionID, tableID int64, t *Tuple) error {
	file, err := bp.catalog.FileForTable(tableID)
	if err != nil {
		return err
	}
	pg, err := file.InsertTuple(tid, t)
	if err != nil {
		return err
	}
	pg.SetDirty(tid, true)
	bp.cachePage(pg)
	return nil
}

// DeleteTuple dispatches to tableID's heap file (which locates t by t.Rid),
// marks the returned page dirty under tid, and caches it.
func (bp *BufferPool) DeleteTuple(tid TransactionID, tableID int64, t *Tuple) error {
	file, err := bp.catalog.FileForTable(tableID)
	if err != nil {
		return err
	}
	pg, err := file.DeleteTuple(tid, t)
	if err != nil {
		return err
	}
	pg.SetDirty(tid, true)
	bp.cachePage(pg)
	return nil
}

func (bp *BufferPool) cachePage(pg Page) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.pages[pg.ID().Key()] = pg
}

// TransactionComplete ends tid: every page it dirtied is flushed (WAL
// UPDATE forced, then written back, under commit) or discarded and reloaded
// from disk (under abort); the log's COMMIT or ABORT record follows (ABORT
// only if tid ever got a BEGIN record — see LogFile.Began); every lock tid
// holds is then released.
func (bp *BufferPool) TransactionComplete(tid TransactionID, commit bool) error {
	bp.mu.Lock()
	var dirtied []Page
	for _, pg := range bp.pages {
		if owner, dirty := pg.IsDirty(); dirty && owner == tid {
			dirtied = append(dirtied, pg)
		}
	}
	bp.mu.Unlock()

	for _, pg := range dirtied {
		if commit {
			if err := bp.flushPage(tid, pg); err != nil {
				return err
			}
		} else {
			pid := pg.ID()
			bp.discardPage(pid)
			file, err := bp.catalog.FileForTable(pid.TableID())
			if err != nil {
				return err
			}
			fresh, err := file.ReadPage(pid.PageNo())
			if err != nil {
				return err
			}
			bp.installPage(fresh)
		}
	}

	if bp.logFile != nil {
		if commit {
			if err := bp.logFile.LogCommit(tid); err != nil {
				return err
			}
		} else if bp.logFile.Began(tid) {
			// Only a transaction the log actually saw BEGIN for can have
			// anything worth rolling back (the checkpoint-flushed-then-
			// aborted case); LogAbort's rollback re-installs any such
			// before-image after the plain in-memory discard above.
			if err := bp.logFile.LogAbort(tid); err != nil {
				return err
			}
		}
	}

	bp.locks.ReleaseAll(tid)
	return nil
}

// flushPage writes the WAL UPDATE record (before-image plus current
// after-image) and forces the log before writing the page to its heap
// file — log-before-data is what makes recovery possible after a crash
// mid-write. The page's before-image is then reset to its just-flushed
// content and its dirty marker cleared.
func (bp *BufferPool) flushPage(tid TransactionID, pg Page) error {
	before := pg.BeforeImage()
	if bp.logFile != nil {
		if err := bp.logFile.LogUpdate(tid, before, pg); err != nil {
			return err
		}
		if err := bp.logFile.Force(); err != nil {
			return err
		}
	}

	file, err := bp.catalog.FileForTable(pg.ID().TableID())
	if err != nil {
		return err
	}
	if err := file.WritePage(pg); err != nil {
		return err
	}
	pg.SetBeforeImage()
	pg.SetDirty(0, false)
	return nil
}

// FlushAllPages force-writes every cached dirty page, WAL record first,
// regardless of which transaction owns it. Used only by
// LogFile.LogCheckpoint.
func (bp *BufferPool) FlushAllPages() error {
	bp.mu.Lock()
	pages := make([]Page, 0, len(bp.pages))
	for _, pg := range bp.pages {
		pages = append(pages, pg)
	}
	bp.mu.Unlock()

	for _, pg := range pages {
		owner, dirty := pg.IsDirty()
		if !dirty {
			continue
		}
		// Route through flushPage, not a bare WritePage: a checkpoint can
		// catch a page still owned by a live transaction, and the WAL
		// invariant requires its UPDATE record on disk before the page
		// write regardless of whether that transaction ever commits —
		// otherwise a later UNDO of this tid would have no before-image
		// to recover.
		if err := bp.flushPage(owner, pg); err != nil {
			return err
		}
	}
	return nil
}

// DiscardPage removes pid from the cache without writing it back.
func (bp *BufferPool) DiscardPage(pid PageID) {
	bp.discardPage(pid)
}

func (bp *BufferPool) discardPage(pid PageID) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	delete(bp.pages, pid.Key())
}

// installPage forcibly replaces (or inserts) the cached copy of a page —
// used only by the log manager's redo/undo/rollback passes, which must
// bypass locking and eviction to install a recovered image.
func (bp *BufferPool) installPage(pg Page) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.pages[pg.ID().Key()] = pg
}

func (bp *BufferPool) cachedPage(pid PageID) (Page, bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	pg, ok := bp.pages[pid.Key()]
	return pg, ok
}

// evictPageLocked chooses a clean cached page to remove, preferring the one
// touched least often per the frequency sketch. bp.mu must already be held.
// Returns an error if every cached page is dirty.
func (bp *BufferPool) evictPageLocked() error {
	var victimKey any
	var victimFreq uint64
	found := false

	for key, pg := range bp.pages {
		if _, dirty := pg.IsDirty(); dirty {
			continue
		}
		f := bp.freq.count(pg.ID())
		if !found || f < victimFreq {
			victimKey, victimFreq, found = key, f, true
		}
	}
	if !found {
		return GoDBError{BufferPoolFullError, "all pages are dirty"}
	}
	delete(bp.pages, victimKey)
	return nil
}

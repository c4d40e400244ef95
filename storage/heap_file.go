package storage

import (
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// HeapFile is a file-backed, unordered array of fixed-size pages: the
// on-disk representation of one table. Its id is a stable FNV-1a hash of
// the backing file's absolute path, so the same table always resolves to
// the same id across process restarts — the log manager and catalog rely
// on that stability.
type HeapFile struct {
	mu          sync.Mutex
	backingFile string
	absPath     string
	id          int64
	desc        *TupleDesc
	bp          *BufferPool
}

// NewHeapFile opens (creating if necessary) a heap file backed by path,
// with the given tuple layout, wired to bp for all locked page access.
func NewHeapFile(path string, desc *TupleDesc, bp *BufferPool) (*HeapFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	h := fnv.New64a()
	h.Write([]byte(abs))

	return &HeapFile{
		backingFile: path,
		absPath:     abs,
		id:          int64(h.Sum64()),
		desc:        desc,
		bp:          bp,
	}, nil
}

func (f *HeapFile) ID() int64              { return f.id }
func (f *HeapFile) Descriptor() *TupleDesc { return f.desc }

// NumPages returns floor(file_length / PageSize); a partially written
// trailing page is not counted.
func (f *HeapFile) NumPages() int {
	fi, err := os.Stat(f.backingFile)
	if err != nil {
		return 0
	}
	return int(fi.Size() / PageSize)
}

// ReadPage reads page pageNo from disk. It fails with PageOutOfRangeError
// if pageNo >= NumPages().
func (f *HeapFile) ReadPage(pageNo int) (Page, error) {
	if pageNo < 0 || pageNo >= f.NumPages() {
		return nil, GoDBError{PageOutOfRangeError, "page number out of range"}
	}
	file, err := os.Open(f.backingFile)
	if err != nil {
		return nil, GoDBError{IOError, err.Error()}
	}
	defer file.Close()

	data := make([]byte, PageSize)
	if _, err := file.ReadAt(data, int64(pageNo)*PageSize); err != nil && err != io.EOF {
		return nil, GoDBError{IOError, err.Error()}
	}

	id := HeapPageID{Table: f.id, Page: pageNo}
	pg := newHeapPage(id, f.desc, f)
	if err := pg.initFromBuffer(data); err != nil {
		return nil, err
	}
	pg.SetBeforeImage()
	return pg, nil
}

// ReadPageFromClass reconstructs a HeapPage from raw page bytes, used by
// the log manager when replaying page images during recovery.
func (f *HeapFile) ReadPageFromClass(pageNo int, data []byte) (Page, error) {
	id := HeapPageID{Table: f.id, Page: pageNo}
	pg := newHeapPage(id, f.desc, f)
	if err := pg.initFromBuffer(data); err != nil {
		return nil, err
	}
	return pg, nil
}

// WritePage overwrites page p's slot in the backing file with exactly
// PageSize bytes, then fsyncs so the write survives a crash.
func (f *HeapFile) WritePage(p Page) error {
	hp, ok := p.(*heapPage)
	if !ok {
		return GoDBError{IncompatibleTypesError, "WritePage given non-heap page"}
	}
	data, err := hp.Marshal()
	if err != nil {
		return err
	}
	file, err := os.OpenFile(f.backingFile, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return GoDBError{IOError, err.Error()}
	}
	defer file.Close()
	if _, err := file.WriteAt(data, int64(hp.PageNo())*PageSize); err != nil {
		return GoDBError{IOError, err.Error()}
	}
	return file.Sync()
}

// appendEmptyPage grows the file by one freshly initialized empty page and
// returns its page number.
func (f *HeapFile) appendEmptyPage() (int, error) {
	pageNo := f.NumPages()
	id := HeapPageID{Table: f.id, Page: pageNo}
	pg := newHeapPage(id, f.desc, f)
	if err := f.WritePage(pg); err != nil {
		return 0, err
	}
	return pageNo, nil
}

// InsertTuple finds the first page with a free slot (acquiring each
// candidate page under WritePerm through the buffer pool), or appends a
// fresh page if every existing page is full, and inserts t there. Returns
// the single dirtied page.
func (f *HeapFile) InsertTuple(tid TransactionID, t *Tuple) (Page, error) {
	n := f.NumPages()
	for pageNo := 0; pageNo < n; pageNo++ {
		pg, err := f.bp.GetPage(tid, HeapPageID{Table: f.id, Page: pageNo}, WritePerm)
		if err != nil {
			return nil, err
		}
		hp := pg.(*heapPage)
		if hp.getNumEmptySlots() == 0 {
			continue
		}
		if _, err := hp.insertTuple(t); err != nil {
			if err == ErrPageFull {
				continue
			}
			return nil, err
		}
		hp.SetDirty(tid, true)
		return hp, nil
	}

	f.mu.Lock()
	pageNo, err := f.appendEmptyPage()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	pg, err := f.bp.GetPage(tid, HeapPageID{Table: f.id, Page: pageNo}, WritePerm)
	if err != nil {
		return nil, err
	}
	hp := pg.(*heapPage)
	if _, err := hp.insertTuple(t); err != nil {
		return nil, err
	}
	hp.SetDirty(tid, true)
	return hp, nil
}

// DeleteTuple clears t's slot (identified by t.Rid) on its owning page,
// acquired under WritePerm. Returns the dirtied page.
func (f *HeapFile) DeleteTuple(tid TransactionID, t *Tuple) (Page, error) {
	if t.Rid == nil {
		return nil, GoDBError{TupleNotFoundError, "tuple has no RecordID"}
	}
	rid := *t.Rid
	hpid, ok := rid.PID.(HeapPageID)
	if !ok || hpid.Table != f.id {
		return nil, GoDBError{TupleNotFoundError, "RecordID does not belong to this heap file"}
	}

	pg, err := f.bp.GetPage(tid, hpid, WritePerm)
	if err != nil {
		return nil, err
	}
	hp := pg.(*heapPage)
	if err := hp.deleteTuple(rid); err != nil {
		return nil, err
	}
	hp.SetDirty(tid, true)
	return hp, nil
}

// Iterator yields every non-tombstoned tuple across all pages, in
// page-number order, acquiring each page under ReadPerm. It tolerates pages
// appended by the same transaction's own inserts mid-scan.
func (f *HeapFile) Iterator(tid TransactionID) (func() (*Tuple, error), error) {
	pageNo := 0
	var pageIter func() (*Tuple, error)

	return func() (*Tuple, error) {
		for {
			if pageIter == nil {
				if pageNo >= f.NumPages() {
					return nil, nil
				}
				pg, err := f.bp.GetPage(tid, HeapPageID{Table: f.id, Page: pageNo}, ReadPerm)
				if err != nil {
					return nil, err
				}
				pageIter = pg.(*heapPage).tupleIter()
				pageNo++
			}
			t, err := pageIter()
			if err != nil {
				return nil, err
			}
			if t == nil {
				pageIter = nil
				continue
			}
			return t, nil
		}
	}, nil
}

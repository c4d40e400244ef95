package storage

import (
	"path/filepath"
	"testing"
)

func newTestDatabase(t *testing.T, numPages int) (*HeapFile, *BufferPool, *LogFile) {
	t.Helper()
	dir := t.TempDir()
	catalog := NewCatalog()
	bp := NewBufferPool(numPages, catalog, DefaultConfig())
	hf, err := NewHeapFile(filepath.Join(dir, "t.tbl"), intStringDesc(), bp)
	if err != nil {
		t.Fatalf("NewHeapFile: %v", err)
	}
	catalog.AddTable("t", hf)
	lf, err := NewLogFile(filepath.Join(dir, "t.log"), bp, catalog)
	if err != nil {
		t.Fatalf("NewLogFile: %v", err)
	}
	bp.SetLogFile(lf)
	return hf, bp, lf
}

func TestBufferPoolCommitFlushesDirtyPages(t *testing.T) {
	hf, bp, _ := newTestDatabase(t, 10)

	tid := NewTID()
	tup := &Tuple{Desc: *hf.Descriptor(), Fields: []DBValue{IntField{1}, StringField{"a"}}}
	if err := bp.InsertTuple(tid, hf.ID(), tup); err != nil {
		t.Fatal(err)
	}
	if err := bp.TransactionComplete(tid, true); err != nil {
		t.Fatalf("commit: %v", err)
	}

	pg, err := hf.ReadPage(0)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if pg.(*heapPage).getNumEmptySlots() == pg.(*heapPage).numSlots {
		t.Fatalf("expected the committed insert to be visible on disk")
	}
}

func TestBufferPoolAbortDiscardsDirtyPages(t *testing.T) {
	hf, bp, _ := newTestDatabase(t, 10)

	tid := NewTID()
	tup := &Tuple{Desc: *hf.Descriptor(), Fields: []DBValue{IntField{1}, StringField{"a"}}}
	if err := bp.InsertTuple(tid, hf.ID(), tup); err != nil {
		t.Fatal(err)
	}
	if err := bp.TransactionComplete(tid, false); err != nil {
		t.Fatalf("abort: %v", err)
	}

	// InsertTuple appended one empty page to the file before inserting; NO-STEAL
	// means the dirty page was never written back, so that page is still empty
	// on disk.
	if hf.NumPages() != 1 {
		t.Fatalf("expected only the empty page appended by the insert, got %d pages", hf.NumPages())
	}
	pg, err := hf.ReadPage(0)
	if err != nil {
		t.Fatalf("ReadPage: %v", err)
	}
	if pg.(*heapPage).getNumEmptySlots() != pg.(*heapPage).numSlots {
		t.Fatalf("expected aborted insert to leave no tuple on disk")
	}
}

func TestBufferPoolEvictsCleanPageWhenFull(t *testing.T) {
	dir := t.TempDir()
	catalog := NewCatalog()
	bp := NewBufferPool(1, catalog, DefaultConfig())

	hf1, err := NewHeapFile(filepath.Join(dir, "a.tbl"), intStringDesc(), bp)
	if err != nil {
		t.Fatal(err)
	}
	catalog.AddTable("a", hf1)
	hf2, err := NewHeapFile(filepath.Join(dir, "b.tbl"), intStringDesc(), bp)
	if err != nil {
		t.Fatal(err)
	}
	catalog.AddTable("b", hf2)

	tid := NewTID()
	tup := &Tuple{Desc: *hf1.Descriptor(), Fields: []DBValue{IntField{0}, StringField{"a"}}}
	if err := bp.InsertTuple(tid, hf1.ID(), tup); err != nil {
		t.Fatal(err)
	}
	if err := bp.TransactionComplete(tid, true); err != nil {
		t.Fatal(err)
	}
	if _, cached := bp.cachedPage(HeapPageID{Table: hf1.ID(), Page: 0}); !cached {
		t.Fatalf("expected hf1's page to remain cached (now clean) after commit")
	}

	// hf1's page 0 is now clean and cached; the pool holds only 1 page, so
	// inserting into hf2 must evict it rather than fail.
	tid2 := NewTID()
	tup2 := &Tuple{Desc: *hf2.Descriptor(), Fields: []DBValue{IntField{0}, StringField{"b"}}}
	if err := bp.InsertTuple(tid2, hf2.ID(), tup2); err != nil {
		t.Fatalf("expected eviction of hf1's clean page to make room, got %v", err)
	}
	if err := bp.TransactionComplete(tid2, true); err != nil {
		t.Fatal(err)
	}

	if _, stillCached := bp.cachedPage(HeapPageID{Table: hf1.ID(), Page: 0}); stillCached {
		t.Fatalf("expected hf1's page to have been evicted")
	}
}

func TestBufferPoolFullOfDirtyPagesFailsEviction(t *testing.T) {
	hf, bp, _ := newTestDatabase(t, 1)

	tid := NewTID()
	tup := &Tuple{Desc: *hf.Descriptor(), Fields: []DBValue{IntField{0}, StringField{"a"}}}
	if err := bp.InsertTuple(tid, hf.ID(), tup); err != nil {
		t.Fatal(err)
	}
	// tid's page is dirty and the pool holds only 1 page: any further
	// distinct page request must fail since nothing clean can be evicted.
	_, err := bp.GetPage(tid, HeapPageID{Table: hf.ID(), Page: 1}, WritePerm)
	if err == nil {
		t.Fatalf("expected BufferPoolFullError when every cached page is dirty")
	}
	gd, ok := err.(GoDBError)
	if !ok || gd.Code() != BufferPoolFullError {
		t.Fatalf("expected BufferPoolFullError, got %v", err)
	}
}

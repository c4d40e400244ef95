package storage

import "fmt"

// HeapPageID is the PageID implementation for HeapFile-backed pages: a
// table id (the owning HeapFile's stable path hash) paired with a page
// number.
type HeapPageID struct {
	Table int64
	Page  int
}

func (id HeapPageID) TableID() int64 { return id.Table }
func (id HeapPageID) PageNo() int    { return id.Page }
func (id HeapPageID) Key() any       { return id }
func (id HeapPageID) ClassName() string { return "HeapPageID" }

func (id HeapPageID) String() string {
	return fmt.Sprintf("HeapPageID{table=%d, page=%d}", id.Table, id.Page)
}

// Less imposes a total order by (table, page), used wherever page ids need
// a deterministic ordering.
func (id HeapPageID) Less(other HeapPageID) bool {
	if id.Table != other.Table {
		return id.Table < other.Table
	}
	return id.Page < other.Page
}

package storage

import (
	"bytes"
	"sync"
)

// heapPage is the sole Page implementation today. A page is laid out as a
// header of ceil(slots/8) bytes — one bit per slot, 1 meaning occupied —
// followed by `slots` fixed-width tuple records. Insert finds the first
// clear bit; delete clears a bit without touching the tuple bytes
// underneath it ("tombstoning").
type heapPage struct {
	mu sync.Mutex

	id       HeapPageID
	desc     TupleDesc
	numSlots int
	occupied []bool // occupied[i] mirrors the on-disk header bit for slot i
	tuples   []*Tuple

	dirtyTid   TransactionID
	isDirty    bool
	file       *HeapFile
	beforeImg  []byte // snapshot captured at start-of-transaction or after commit
}

// numSlotsForTupleSize returns floor((PageSize*8) / (tupleBits+1)), the slot
// count for a tuple of the given serialized byte size.
func numSlotsForTupleSize(tupleBytes int) int {
	tupleBits := tupleBytes * 8
	return (PageSize * 8) / (tupleBits + 1)
}

func headerBytesForSlots(slots int) int {
	return (slots + 7) / 8
}

// newHeapPage constructs a fresh, empty heap page with the given id in file f.
func newHeapPage(id HeapPageID, desc *TupleDesc, f *HeapFile) *heapPage {
	n := numSlotsForTupleSize(desc.bytesPerTuple())
	return &heapPage{
		id:       id,
		desc:     *desc,
		numSlots: n,
		occupied: make([]bool, n),
		tuples:   make([]*Tuple, n),
		file:     f,
	}
}

func (h *heapPage) ID() PageID { return h.id }

func (h *heapPage) IsDirty() (TransactionID, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dirtyTid, h.isDirty
}

func (h *heapPage) SetDirty(tid TransactionID, dirty bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.isDirty = dirty
	if dirty {
		h.dirtyTid = tid
	}
}

func (h *heapPage) ClassName() string { return "HeapPage" }

// getNumEmptySlots reports how many slots remain free for insertion.
func (h *heapPage) getNumEmptySlots() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, occ := range h.occupied {
		if !occ {
			n++
		}
	}
	return n
}

// insertTuple writes t into the first clear-bit slot, sets the bit, and
// assigns t.Rid. Returns ErrPageFull if no slot is free.
func (h *heapPage) insertTuple(t *Tuple) (RecordID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < h.numSlots; i++ {
		if !h.occupied[i] {
			h.occupied[i] = true
			h.tuples[i] = t
			rid := RecordID{PID: h.id, SlotNo: i}
			t.Rid = &rid
			return rid, nil
		}
	}
	return RecordID{}, ErrPageFull
}

// ErrPageFull is returned by insertTuple when every slot is occupied.
var ErrPageFull = GoDBError{PageFullError, "page is full"}

// deleteTuple clears the bit at rid.SlotNo, tombstoning the tuple. The
// bytes underneath may remain as garbage until the slot is reused.
func (h *heapPage) deleteTuple(rid RecordID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rid.SlotNo < 0 || rid.SlotNo >= h.numSlots {
		return GoDBError{TupleNotFoundError, "slot index out of range"}
	}
	if !h.occupied[rid.SlotNo] {
		return GoDBError{TupleNotFoundError, "slot already empty"}
	}
	h.occupied[rid.SlotNo] = false
	h.tuples[rid.SlotNo] = nil
	return nil
}

// tupleIter returns a function yielding occupied slots in slot-index order,
// nil,nil at exhaustion. Each call to tupleIter starts a fresh pass.
func (h *heapPage) tupleIter() func() (*Tuple, error) {
	i := 0
	return func() (*Tuple, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i < h.numSlots {
			slot := i
			i++
			if h.occupied[slot] {
				rid := RecordID{PID: h.id, SlotNo: slot}
				cp := *h.tuples[slot]
				cp.Rid = &rid
				return &cp, nil
			}
		}
		return nil, nil
	}
}

// Marshal writes the header bitmap followed by every slot's tuple bytes
// (occupied or not — unoccupied slots are zero-filled so slot positions
// stay stable across a round trip), padded to exactly PageSize.
func (h *heapPage) Marshal() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := new(bytes.Buffer)
	header := make([]byte, headerBytesForSlots(h.numSlots))
	for i, occ := range h.occupied {
		if occ {
			header[i/8] |= 1 << uint(i%8)
		}
	}
	buf.Write(header)

	tupleBytes := h.desc.bytesPerTuple()
	for i := 0; i < h.numSlots; i++ {
		if h.occupied[i] {
			if err := h.tuples[i].writeTo(buf); err != nil {
				return nil, err
			}
		} else {
			buf.Write(make([]byte, tupleBytes))
		}
	}
	if buf.Len() > PageSize {
		return nil, GoDBError{MalformedDataError, "serialized page exceeds PageSize"}
	}
	out := make([]byte, PageSize)
	copy(out, buf.Bytes())
	return out, nil
}

// initFromBuffer decodes a page previously produced by Marshal.
func (h *heapPage) initFromBuffer(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	headerLen := headerBytesForSlots(h.numSlots)
	if len(data) < headerLen {
		return GoDBError{MalformedDataError, "page buffer shorter than header"}
	}
	header := data[:headerLen]
	rest := bytes.NewBuffer(data[headerLen:])

	occupied := make([]bool, h.numSlots)
	tuples := make([]*Tuple, h.numSlots)
	for i := 0; i < h.numSlots; i++ {
		occ := header[i/8]&(1<<uint(i%8)) != 0
		occupied[i] = occ
		t, err := readTupleFrom(rest, &h.desc)
		if err != nil {
			return err
		}
		if occ {
			rid := RecordID{PID: h.id, SlotNo: i}
			t.Rid = &rid
			tuples[i] = t
		}
	}
	h.occupied = occupied
	h.tuples = tuples
	h.isDirty = false
	return nil
}

// BeforeImage returns a deep copy of the page as captured by the last call
// to SetBeforeImage, or of the current content if none was ever taken.
func (h *heapPage) BeforeImage() Page {
	h.mu.Lock()
	img := h.beforeImg
	h.mu.Unlock()

	cp := newHeapPage(h.id, &h.desc, h.file)
	if img == nil {
		data, _ := h.Marshal()
		img = data
	}
	if err := cp.initFromBuffer(img); err != nil {
		return cp
	}
	return cp
}

// SetBeforeImage snapshots the page's current bytes.
func (h *heapPage) SetBeforeImage() {
	data, err := h.Marshal()
	if err != nil {
		return
	}
	h.mu.Lock()
	h.beforeImg = data
	h.mu.Unlock()
}

func (h *heapPage) PageNo() int { return h.id.Page }

package storage

import "testing"

func intStringDesc() *TupleDesc {
	return &TupleDesc{Fields: []FieldType{
		{Fname: "id", Ftype: IntType},
		{Fname: "name", Ftype: StringType},
	}}
}

func TestHeapPageInsertAssignsStableSlots(t *testing.T) {
	desc := intStringDesc()
	pg := newHeapPage(HeapPageID{Table: 1, Page: 0}, desc, nil)

	var rids []RecordID
	for i := 0; i < 3; i++ {
		tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{int64(i)}, StringField{"x"}}}
		rid, err := pg.insertTuple(tup)
		if err != nil {
			t.Fatalf("insertTuple: %v", err)
		}
		rids = append(rids, rid)
	}
	if rids[0].SlotNo != 0 || rids[1].SlotNo != 1 || rids[2].SlotNo != 2 {
		t.Fatalf("expected sequential slots, got %v", rids)
	}

	if err := pg.deleteTuple(rids[1]); err != nil {
		t.Fatalf("deleteTuple: %v", err)
	}

	tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{99}, StringField{"y"}}}
	rid, err := pg.insertTuple(tup)
	if err != nil {
		t.Fatalf("insertTuple after delete: %v", err)
	}
	if rid.SlotNo != 1 {
		t.Fatalf("expected tombstoned slot 1 to be reused, got slot %d", rid.SlotNo)
	}
}

func TestHeapPageFullAfterAllSlots(t *testing.T) {
	desc := intStringDesc()
	pg := newHeapPage(HeapPageID{Table: 1, Page: 0}, desc, nil)

	for i := 0; i < pg.numSlots; i++ {
		tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{int64(i)}, StringField{"x"}}}
		if _, err := pg.insertTuple(tup); err != nil {
			t.Fatalf("insertTuple %d: %v", i, err)
		}
	}
	tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{-1}, StringField{"overflow"}}}
	if _, err := pg.insertTuple(tup); err != ErrPageFull {
		t.Fatalf("expected ErrPageFull, got %v", err)
	}
}

func TestHeapPageMarshalRoundTripPreservesSlotPositions(t *testing.T) {
	desc := intStringDesc()
	pg := newHeapPage(HeapPageID{Table: 7, Page: 3}, desc, nil)

	tup0 := &Tuple{Desc: *desc, Fields: []DBValue{IntField{10}, StringField{"alpha"}}}
	tup1 := &Tuple{Desc: *desc, Fields: []DBValue{IntField{20}, StringField{"beta"}}}
	if _, err := pg.insertTuple(tup0); err != nil {
		t.Fatal(err)
	}
	if _, err := pg.insertTuple(tup1); err != nil {
		t.Fatal(err)
	}
	// Tombstone slot 0, leaving a gap before slot 1.
	if err := pg.deleteTuple(RecordID{PID: pg.id, SlotNo: 0}); err != nil {
		t.Fatal(err)
	}

	data, err := pg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) != PageSize {
		t.Fatalf("expected marshaled page of %d bytes, got %d", PageSize, len(data))
	}

	decoded := newHeapPage(pg.id, desc, nil)
	if err := decoded.initFromBuffer(data); err != nil {
		t.Fatalf("initFromBuffer: %v", err)
	}

	if decoded.occupied[0] {
		t.Fatalf("slot 0 should still be tombstoned after round trip")
	}
	if !decoded.occupied[1] {
		t.Fatalf("slot 1 should still be occupied after round trip")
	}
	got := decoded.tuples[1]
	if got.Fields[0].(IntField).Value != 20 || got.Fields[1].(StringField).Value != "beta" {
		t.Fatalf("slot 1 contents changed across round trip: %+v", got)
	}
}

func TestHeapPageBeforeImageIsIndependentSnapshot(t *testing.T) {
	desc := intStringDesc()
	pg := newHeapPage(HeapPageID{Table: 1, Page: 0}, desc, nil)
	pg.SetBeforeImage()

	tup := &Tuple{Desc: *desc, Fields: []DBValue{IntField{1}, StringField{"z"}}}
	if _, err := pg.insertTuple(tup); err != nil {
		t.Fatal(err)
	}

	before := pg.BeforeImage().(*heapPage)
	if before.occupied[0] {
		t.Fatalf("before-image should not reflect the insert made after SetBeforeImage")
	}
	if !pg.occupied[0] {
		t.Fatalf("live page should still show the insert")
	}
}

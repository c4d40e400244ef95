package storage

import "testing"

func TestTupleDescFindFieldIndexAmbiguous(t *testing.T) {
	td := &TupleDesc{Fields: []FieldType{
		{Fname: "id", TableQualifier: "a", Ftype: IntType},
		{Fname: "id", TableQualifier: "b", Ftype: IntType},
	}}

	if _, err := td.FindFieldIndex("", "id"); err == nil {
		t.Fatalf("expected an unqualified lookup of a duplicated field name to be ambiguous")
	}

	idx, err := td.FindFieldIndex("b", "id")
	if err != nil {
		t.Fatalf("qualified lookup should resolve: %v", err)
	}
	if idx != 1 {
		t.Fatalf("expected b.id to resolve to index 1, got %d", idx)
	}
}

func TestTupleDescFindFieldIndexNotFound(t *testing.T) {
	td := intStringDesc()
	if _, err := td.FindFieldIndex("", "missing"); err == nil {
		t.Fatalf("expected lookup of a nonexistent field to fail")
	}
}

func TestIntFieldEvalPred(t *testing.T) {
	cases := []struct {
		op   BoolOp
		want bool
	}{
		{OpEquals, false},
		{OpNotEquals, true},
		{OpLessThan, true},
		{OpLessThanOrEqual, true},
		{OpGreaterThan, false},
		{OpGreaterThanOrEqual, false},
	}
	a, b := IntField{1}, IntField{2}
	for _, c := range cases {
		if got := a.EvalPred(b, c.op); got != c.want {
			t.Errorf("IntField(1).EvalPred(IntField(2), %v) = %v, want %v", c.op, got, c.want)
		}
	}
}

func TestStringFieldEvalPredLike(t *testing.T) {
	a := StringField{"hello world"}
	if !a.EvalPred(StringField{"wor"}, OpLike) {
		t.Fatalf("expected OpLike substring match to succeed")
	}
	if a.EvalPred(StringField{"xyz"}, OpLike) {
		t.Fatalf("expected OpLike substring match to fail for an absent substring")
	}
}

func TestTupleEqualsIgnoresRecordID(t *testing.T) {
	desc := intStringDesc()
	rid := &RecordID{PID: HeapPageID{Table: 1, Page: 0}, SlotNo: 0}
	t1 := &Tuple{Desc: *desc, Fields: []DBValue{IntField{1}, StringField{"a"}}, Rid: rid}
	t2 := &Tuple{Desc: *desc, Fields: []DBValue{IntField{1}, StringField{"a"}}, Rid: nil}
	if !t1.Equals(t2) {
		t.Fatalf("expected tuples with equal fields to be equal regardless of RecordID")
	}

	t3 := &Tuple{Desc: *desc, Fields: []DBValue{IntField{2}, StringField{"a"}}}
	if t1.Equals(t3) {
		t.Fatalf("expected tuples with differing fields to be unequal")
	}
}

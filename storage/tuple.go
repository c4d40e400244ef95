package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// FieldType is the type of one field in a TupleDesc: its name, its owning
// table (possibly empty), and its DBType.
type FieldType struct {
	Fname          string
	TableQualifier string
	Ftype          DBType
}

// TupleDesc is the "type" of a tuple: the ordered field names and types
// every Tuple conforming to it must carry.
type TupleDesc struct {
	Fields []FieldType
}

// Equals reports whether two TupleDescs have the same fields, in order.
func (td *TupleDesc) Equals(other *TupleDesc) bool {
	if len(td.Fields) != len(other.Fields) {
		return false
	}
	for i := range td.Fields {
		if td.Fields[i].Fname != other.Fields[i].Fname || td.Fields[i].Ftype != other.Fields[i].Ftype {
			return false
		}
	}
	return true
}

// Copy returns a deep copy of the TupleDesc.
func (td *TupleDesc) Copy() *TupleDesc {
	fields := make([]FieldType, len(td.Fields))
	copy(fields, td.Fields)
	return &TupleDesc{Fields: fields}
}

// bytesPerTuple is the fixed wire size of one tuple conforming to this
// TupleDesc: 8 bytes per IntType field, StringLength bytes per StringType
// field. This is what lets heap_page.go compute a constant slot count.
func (td *TupleDesc) bytesPerTuple() int {
	n := 0
	for _, f := range td.Fields {
		switch f.Ftype {
		case IntType:
			n += 8
		case StringType:
			n += StringLength
		}
	}
	return n
}

// FindFieldIndex locates the field in td matching name (and, if non-empty,
// tableQualifier), returning AmbiguousNameError or IncompatibleTypesError on
// no unique match. Only this simple name/qualifier matching is done; the
// full query-parsing disambiguation rules are out of scope.
func (td *TupleDesc) FindFieldIndex(tableQualifier, name string) (int, error) {
	best := -1
	for i, f := range td.Fields {
		if f.Fname != name {
			continue
		}
		if tableQualifier != "" && f.TableQualifier != tableQualifier {
			continue
		}
		if tableQualifier == "" && best != -1 {
			return 0, GoDBError{AmbiguousNameError, fmt.Sprintf("field name %q is ambiguous", name)}
		}
		best = i
		if tableQualifier != "" {
			break
		}
	}
	if best == -1 {
		return 0, GoDBError{IncompatibleTypesError, fmt.Sprintf("field %s.%s not found", tableQualifier, name)}
	}
	return best, nil
}

// IntField is an IntType field value.
type IntField struct{ Value int64 }

// StringField is a StringType field value.
type StringField struct{ Value string }

// EvalPred evaluates a BoolOp of this value against v.
func (f IntField) EvalPred(v DBValue, op BoolOp) bool {
	other, ok := v.(IntField)
	if !ok {
		return false
	}
	switch op {
	case OpEquals:
		return f.Value == other.Value
	case OpNotEquals:
		return f.Value != other.Value
	case OpLessThan:
		return f.Value < other.Value
	case OpLessThanOrEqual:
		return f.Value <= other.Value
	case OpGreaterThan:
		return f.Value > other.Value
	case OpGreaterThanOrEqual:
		return f.Value >= other.Value
	default:
		return false
	}
}

// EvalPred evaluates a BoolOp of this value against v.
func (f StringField) EvalPred(v DBValue, op BoolOp) bool {
	other, ok := v.(StringField)
	if !ok {
		return false
	}
	switch op {
	case OpEquals:
		return f.Value == other.Value
	case OpNotEquals:
		return f.Value != other.Value
	case OpLike:
		return strings.Contains(f.Value, other.Value)
	case OpLessThan:
		return f.Value < other.Value
	case OpLessThanOrEqual:
		return f.Value <= other.Value
	case OpGreaterThan:
		return f.Value > other.Value
	case OpGreaterThanOrEqual:
		return f.Value >= other.Value
	default:
		return false
	}
}

// Tuple is an ordered sequence of field values matching a TupleDesc. Rid is
// set once the tuple is resident on a page (by HeapFile.Iterator or
// HeapFile.InsertTuple) and nil otherwise.
type Tuple struct {
	Desc   TupleDesc
	Fields []DBValue
	Rid    *RecordID
}

// Equals reports whether two tuples have equal descriptors and field
// values; Rid is not compared.
func (t *Tuple) Equals(other *Tuple) bool {
	if t == nil || other == nil {
		return t == other
	}
	if !t.Desc.Equals(&other.Desc) || len(t.Fields) != len(other.Fields) {
		return false
	}
	for i := range t.Fields {
		if t.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

// writeTo serializes the tuple's fields, in order, to b. Strings are
// zero-padded to StringLength; ints are written as little-endian int64.
func (t *Tuple) writeTo(b *bytes.Buffer) error {
	for _, field := range t.Fields {
		switch v := field.(type) {
		case IntField:
			if err := binary.Write(b, binary.LittleEndian, v.Value); err != nil {
				return err
			}
		case StringField:
			padded := make([]byte, StringLength)
			copy(padded, []byte(v.Value))
			if _, err := b.Write(padded); err != nil {
				return err
			}
		default:
			return GoDBError{TypeMismatchError, fmt.Sprintf("unsupported field type %T", field)}
		}
	}
	return nil
}

// readTupleFrom deserializes one tuple matching desc from b.
func readTupleFrom(b *bytes.Buffer, desc *TupleDesc) (*Tuple, error) {
	t := &Tuple{Desc: *desc, Fields: make([]DBValue, len(desc.Fields))}
	for i, fd := range desc.Fields {
		switch fd.Ftype {
		case IntType:
			var v int64
			if err := binary.Read(b, binary.LittleEndian, &v); err != nil {
				return nil, err
			}
			t.Fields[i] = IntField{v}
		case StringType:
			raw := make([]byte, StringLength)
			if _, err := b.Read(raw); err != nil {
				return nil, err
			}
			t.Fields[i] = StringField{strings.TrimRight(string(raw), "\x00")}
		default:
			return nil, GoDBError{MalformedDataError, "field with unknown type in tuple descriptor"}
		}
	}
	return t, nil
}

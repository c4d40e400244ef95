package storage

// Operator is the contract external query operators are expected to
// satisfy: a restartable lazy sequence of tuples. Join, filter, aggregate,
// project, order-by, and limit operators are not implemented here — only
// SeqScan, InsertOp, and DeleteOp, the thin glue needed to drive the
// storage core end to end.
type Operator interface {
	Descriptor() *TupleDesc
	// Open prepares the operator to iterate under tid. Rewind may be called
	// after Open to restart from the beginning without reopening.
	Open(tid TransactionID) error
	// Next returns the next tuple, or nil, nil at exhaustion.
	Next() (*Tuple, error)
	Rewind() error
	Close() error
}

// SeqScan is a restartable sequential scan over one DBFile.
type SeqScan struct {
	file DBFile
	bp   *BufferPool
	tid  TransactionID
	iter func() (*Tuple, error)
}

// NewSeqScan constructs a scan over file, to be driven through bp.
func NewSeqScan(file DBFile, bp *BufferPool) *SeqScan {
	return &SeqScan{file: file, bp: bp}
}

func (s *SeqScan) Descriptor() *TupleDesc { return s.file.Descriptor() }

func (s *SeqScan) Open(tid TransactionID) error {
	s.tid = tid
	iter, err := s.file.Iterator(tid)
	if err != nil {
		return err
	}
	s.iter = iter
	return nil
}

func (s *SeqScan) Next() (*Tuple, error) { return s.iter() }

func (s *SeqScan) Rewind() error {
	iter, err := s.file.Iterator(s.tid)
	if err != nil {
		return err
	}
	s.iter = iter
	return nil
}

func (s *SeqScan) Close() error { s.iter = nil; return nil }

// countDesc is the one-column "count" result shape InsertOp and DeleteOp
// both return.
var countDesc = &TupleDesc{Fields: []FieldType{{Fname: "count", Ftype: IntType}}}

// InsertOp inserts every tuple produced by child into file, via bp, then
// yields a single {count} tuple.
type InsertOp struct {
	file  DBFile
	bp    *BufferPool
	child Operator
	tid   TransactionID
	done  bool
}

func NewInsertOp(file DBFile, bp *BufferPool, child Operator) *InsertOp {
	return &InsertOp{file: file, bp: bp, child: child}
}

func (op *InsertOp) Descriptor() *TupleDesc { return countDesc }

func (op *InsertOp) Open(tid TransactionID) error {
	op.tid = tid
	return op.child.Open(tid)
}

func (op *InsertOp) Next() (*Tuple, error) {
	if op.done {
		return nil, nil
	}
	op.done = true
	var count int64
	for {
		t, err := op.child.Next()
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		if err := op.bp.InsertTuple(op.tid, op.file.ID(), t); err != nil {
			return nil, err
		}
		count++
	}
	return &Tuple{Desc: *countDesc, Fields: []DBValue{IntField{count}}}, nil
}

func (op *InsertOp) Rewind() error { op.done = false; return op.child.Rewind() }
func (op *InsertOp) Close() error  { return op.child.Close() }

// DeleteOp deletes every tuple produced by child from file, via bp, then
// yields a single {count} tuple.
type DeleteOp struct {
	file  DBFile
	bp    *BufferPool
	child Operator
	tid   TransactionID
	done  bool
}

func NewDeleteOp(file DBFile, bp *BufferPool, child Operator) *DeleteOp {
	return &DeleteOp{file: file, bp: bp, child: child}
}

func (op *DeleteOp) Descriptor() *TupleDesc { return countDesc }

func (op *DeleteOp) Open(tid TransactionID) error {
	op.tid = tid
	return op.child.Open(tid)
}

func (op *DeleteOp) Next() (*Tuple, error) {
	if op.done {
		return nil, nil
	}
	op.done = true
	var count int64
	for {
		t, err := op.child.Next()
		if err != nil {
			return nil, err
		}
		if t == nil {
			break
		}
		if err := op.bp.DeleteTuple(op.tid, op.file.ID(), t); err != nil {
			return nil, err
		}
		count++
	}
	return &Tuple{Desc: *countDesc, Fields: []DBValue{IntField{count}}}, nil
}

func (op *DeleteOp) Rewind() error { op.done = false; return op.child.Rewind() }
func (op *DeleteOp) Close() error  { return op.child.Close() }

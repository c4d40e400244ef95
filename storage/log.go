package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// LogRecordType tags one WAL record.
type LogRecordType int32

const (
	BeginRecord LogRecordType = iota
	UpdateRecord
	CommitRecord
	AbortRecord
	CheckpointRecord
)

// pageConstructor rebuilds a concrete Page from its class-tagged image
// during recovery. Only "HeapPage" is registered today; RegisterPageKind
// lets a future page variant plug in without touching the wire format.
type pageConstructor func(catalog *Catalog, idArgs []int64, data []byte) (Page, error)

var pageRegistry = map[string]pageConstructor{
	"HeapPage": func(catalog *Catalog, idArgs []int64, data []byte) (Page, error) {
		if len(idArgs) != 2 {
			return nil, GoDBError{MalformedDataError, "HeapPage image needs 2 id args"}
		}
		file, err := catalog.FileForTable(idArgs[0])
		if err != nil {
			return nil, err
		}
		return file.ReadPageFromClass(int(idArgs[1]), data)
	},
}

// RegisterPageKind adds a page class to the recovery registry.
func RegisterPageKind(className string, ctor pageConstructor) {
	pageRegistry[className] = ctor
}

// LogFile is the single append-only WAL backing one Database. Bytes 0..7
// hold the most recent checkpoint's offset (or -1); everything after is a
// sequence of framed records. All mutating operations serialize on
// mu; no method here calls into the BufferPool while holding mu
// (LogCheckpoint flushes the pool before taking mu, and Rollback and
// Recover release mu before installing pages), so the two locks are never
// held in log-then-buffer-pool order.
type LogFile struct {
	mu   sync.Mutex
	file *os.File
	path string

	offset  int64 // current file position / append point
	bp      *BufferPool
	catalog *Catalog

	tidToFirst map[TransactionID]int64
}

const logHeaderSize = 8

// NewLogFile opens (creating if necessary) a WAL at path, wired to bp and
// catalog for recovery's page reconstruction.
func NewLogFile(path string, bp *BufferPool, catalog *Catalog) (*LogFile, error) {
	if bp == nil || catalog == nil {
		return nil, GoDBError{IOError, "log file requires a non-nil buffer pool and catalog"}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, GoDBError{IOError, err.Error()}
	}
	lf := &LogFile{
		file:       f,
		path:       path,
		bp:         bp,
		catalog:    catalog,
		tidToFirst: make(map[TransactionID]int64),
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, GoDBError{IOError, err.Error()}
	}
	if fi.Size() == 0 {
		if err := lf.writeCheckpointOffset(-1); err != nil {
			return nil, err
		}
		lf.offset = logHeaderSize
	} else {
		lf.offset = fi.Size()
	}
	return lf, nil
}

func (lf *LogFile) writeCheckpointOffset(off int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(off))
	if _, err := lf.file.WriteAt(buf[:], 0); err != nil {
		return GoDBError{IOError, err.Error()}
	}
	return nil
}

func (lf *LogFile) readCheckpointOffset() (int64, error) {
	var buf [8]byte
	if _, err := lf.file.ReadAt(buf[:], 0); err != nil {
		return 0, GoDBError{IOError, err.Error()}
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// --- low-level framing ---

func (lf *LogFile) appendAt(offset int64, data []byte) (int64, error) {
	n, err := lf.file.WriteAt(data, offset)
	if err != nil {
		return 0, GoDBError{IOError, err.Error()}
	}
	return offset + int64(n), nil
}

func writeInt32(buf *bytes.Buffer, v int32) { binary.Write(buf, binary.BigEndian, v) }
func writeInt64(buf *bytes.Buffer, v int64) { binary.Write(buf, binary.BigEndian, v) }

func readInt32At(f *os.File, offset int64) (int32, int64, error) {
	var b [4]byte
	if _, err := f.ReadAt(b[:], offset); err != nil {
		return 0, offset, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), offset + 4, nil
}

func readInt64At(f *os.File, offset int64) (int64, int64, error) {
	var b [8]byte
	if _, err := f.ReadAt(b[:], offset); err != nil {
		return 0, offset, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), offset + 8, nil
}

// writePageImage frames a page as:
//
//	page_class_name:utf8, id_class_name:utf8, id_arg_count:i32,
//	id_args:i64[], page_data_len:i32, page_data:bytes
//
// id args are written as i64, not i32, because a HeapFile's id is a 64-bit
// path hash.
func writePageImage(buf *bytes.Buffer, p Page) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	id := p.ID()
	writeUTF8(buf, p.ClassName())
	writeUTF8(buf, id.ClassName())
	idArgs := []int64{id.TableID(), int64(id.PageNo())}
	writeInt32(buf, int32(len(idArgs)))
	for _, a := range idArgs {
		writeInt64(buf, a)
	}
	writeInt32(buf, int32(len(data)))
	buf.Write(data)
	return nil
}

func writeUTF8(buf *bytes.Buffer, s string) {
	writeInt32(buf, int32(len(s)))
	buf.WriteString(s)
}

func readUTF8At(f *os.File, offset int64) (string, int64, error) {
	n, offset, err := readInt32At(f, offset)
	if err != nil {
		return "", offset, err
	}
	b := make([]byte, n)
	if _, err := f.ReadAt(b, offset); err != nil {
		return "", offset, err
	}
	return string(b), offset + int64(n), nil
}

// pageImage is a decoded, not-yet-reconstructed page record.
type pageImage struct {
	pageClass string
	idClass   string
	idArgs    []int64
	data      []byte
}

func readPageImageAt(f *os.File, offset int64) (*pageImage, int64, error) {
	pageClass, offset, err := readUTF8At(f, offset)
	if err != nil {
		return nil, offset, err
	}
	idClass, offset, err := readUTF8At(f, offset)
	if err != nil {
		return nil, offset, err
	}
	argc, offset, err := readInt32At(f, offset)
	if err != nil {
		return nil, offset, err
	}
	args := make([]int64, argc)
	for i := range args {
		args[i], offset, err = readInt64At(f, offset)
		if err != nil {
			return nil, offset, err
		}
	}
	dataLen, offset, err := readInt32At(f, offset)
	if err != nil {
		return nil, offset, err
	}
	data := make([]byte, dataLen)
	if _, err := f.ReadAt(data, offset); err != nil {
		return nil, offset, err
	}
	offset += int64(dataLen)
	return &pageImage{pageClass, idClass, args, data}, offset, nil
}

func (img *pageImage) reconstruct(catalog *Catalog) (Page, error) {
	ctor, ok := pageRegistry[img.pageClass]
	if !ok {
		return nil, GoDBError{MalformedDataError, fmt.Sprintf("unknown page class %q in log", img.pageClass)}
	}
	return ctor(catalog, img.idArgs, img.data)
}

// --- record-level API ---

// LogBegin appends a BEGIN record and records tid's first-log-record offset.
func (lf *LogFile) LogBegin(tid TransactionID) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	if _, exists := lf.tidToFirst[tid]; exists {
		return GoDBError{AbortedError, "transaction already has a BEGIN record"}
	}

	start := lf.offset
	buf := new(bytes.Buffer)
	writeInt32(buf, int32(BeginRecord))
	writeInt64(buf, int64(tid))
	writeInt64(buf, start)

	next, err := lf.appendAt(start, buf.Bytes())
	if err != nil {
		return err
	}
	lf.offset = next
	lf.tidToFirst[tid] = start
	return nil
}

// Began reports whether tid has an active BEGIN record — i.e. LogBegin was
// called for it and it has not yet committed or aborted. TransactionComplete
// uses this to decide whether an abort has anything in the log worth
// rolling back or recording.
func (lf *LogFile) Began(tid TransactionID) bool {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	_, ok := lf.tidToFirst[tid]
	return ok
}

// LogUpdate appends an UPDATE record carrying both page images. The caller
// must already hold the exclusive lock on the page; this method does not
// force the log — BufferPool.flushPage forces immediately afterward, and
// that ordering is what guarantees the record is durable before the page
// itself is written back.
func (lf *LogFile) LogUpdate(tid TransactionID, before, after Page) error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	start := lf.offset
	buf := new(bytes.Buffer)
	writeInt32(buf, int32(UpdateRecord))
	writeInt64(buf, int64(tid))
	if err := writePageImage(buf, before); err != nil {
		return err
	}
	if err := writePageImage(buf, after); err != nil {
		return err
	}
	writeInt64(buf, start)

	next, err := lf.appendAt(start, buf.Bytes())
	if err != nil {
		return err
	}
	lf.offset = next
	return nil
}

// LogCommit appends a COMMIT record, forces the log, and retires tid.
func (lf *LogFile) LogCommit(tid TransactionID) error {
	lf.mu.Lock()
	start := lf.offset
	buf := new(bytes.Buffer)
	writeInt32(buf, int32(CommitRecord))
	writeInt64(buf, int64(tid))
	writeInt64(buf, start)
	next, err := lf.appendAt(start, buf.Bytes())
	if err != nil {
		lf.mu.Unlock()
		return err
	}
	lf.offset = next
	delete(lf.tidToFirst, tid)
	lf.mu.Unlock()

	return lf.Force()
}

// LogAbort rolls tid's updates back, then appends an ABORT record and
// forces the log. Rollback must run first: once the ABORT record lands,
// recovery would otherwise no longer treat tid as a loser.
func (lf *LogFile) LogAbort(tid TransactionID) error {
	if err := lf.Rollback(tid); err != nil {
		return err
	}

	lf.mu.Lock()
	start := lf.offset
	buf := new(bytes.Buffer)
	writeInt32(buf, int32(AbortRecord))
	writeInt64(buf, int64(tid))
	writeInt64(buf, start)
	next, err := lf.appendAt(start, buf.Bytes())
	if err != nil {
		lf.mu.Unlock()
		return err
	}
	lf.offset = next
	delete(lf.tidToFirst, tid)
	lf.mu.Unlock()

	return lf.Force()
}

// Force fsyncs the log file, the durability boundary LogCommit relies on.
func (lf *LogFile) Force() error {
	if err := lf.file.Sync(); err != nil {
		return GoDBError{IOError, err.Error()}
	}
	return nil
}

// LogCheckpoint forces the buffer pool, writes a CHECKPOINT record
// snapshotting tidToFirstLogRecord, rewrites the header to point at it, and
// truncates the log prefix that is no longer needed for recovery.
func (lf *LogFile) LogCheckpoint() error {
	if err := lf.bp.FlushAllPages(); err != nil {
		return err
	}

	lf.mu.Lock()
	start := lf.offset
	buf := new(bytes.Buffer)
	writeInt32(buf, int32(CheckpointRecord))
	writeInt64(buf, 0) // CHECKPOINT has no owning tid
	writeInt32(buf, int32(len(lf.tidToFirst)))
	for tid, off := range lf.tidToFirst {
		writeInt64(buf, int64(tid))
		writeInt64(buf, off)
	}
	writeInt64(buf, start)

	next, err := lf.appendAt(start, buf.Bytes())
	if err != nil {
		lf.mu.Unlock()
		return err
	}
	lf.offset = next
	lf.mu.Unlock()

	if err := lf.Force(); err != nil {
		return err
	}
	if err := lf.writeCheckpointOffset(start); err != nil {
		return err
	}
	if err := lf.Force(); err != nil {
		return err
	}
	return lf.LogTruncate()
}

// LogTruncate rewrites the log keeping only the records needed for future
// recovery: everything from min(active tids' first-log-record offset,
// checkpoint offset) onward. Every surviving record is decoded and
// re-encoded rather than copied byte for byte, because each record's
// trailing start_offset footer — and, for the CHECKPOINT record, every
// (tid, first_offset) pair in its payload — is an absolute file offset
// that a prefix drop invalidates; §4.4 requires those recorded offsets to
// be adjusted by the removed prefix length, not just the file header and
// the in-memory tidToFirst map. The new file is forced before the rename,
// so a crash between write and rename can never leave a half-written log
// in place of the original.
func (lf *LogFile) LogTruncate() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()

	checkpointOff, err := lf.readCheckpointOffset()
	if err != nil {
		return err
	}
	keepFrom := checkpointOff
	if keepFrom < 0 {
		keepFrom = logHeaderSize
	}
	for _, off := range lf.tidToFirst {
		if off < keepFrom {
			keepFrom = off
		}
	}
	if keepFrom <= logHeaderSize {
		return nil // nothing to drop
	}

	tmpPath := lf.path + ".trunc"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return GoDBError{IOError, err.Error()}
	}

	shift := keepFrom - logHeaderSize
	fileEnd := lf.offset

	var hdr [8]byte
	newCheckpointOff := int64(-1)
	if checkpointOff >= 0 {
		newCheckpointOff = checkpointOff - shift
	}
	binary.BigEndian.PutUint64(hdr[:], uint64(newCheckpointOff))
	if _, err := tmp.WriteAt(hdr[:], 0); err != nil {
		tmp.Close()
		return GoDBError{IOError, err.Error()}
	}

	readAt := keepFrom
	for readAt < fileEnd {
		rec, next, err := lf.readRecordForward(readAt)
		if err != nil {
			tmp.Close()
			return err
		}
		newStart := readAt - shift
		encoded := encodeRecord(rec, newStart, shift)
		if _, err := tmp.WriteAt(encoded, newStart); err != nil {
			tmp.Close()
			return GoDBError{IOError, err.Error()}
		}
		readAt = next
	}
	writeAt := fileEnd - shift

	newTidToFirst := make(map[TransactionID]int64, len(lf.tidToFirst))
	for tid, off := range lf.tidToFirst {
		newTidToFirst[tid] = off - shift
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return GoDBError{IOError, err.Error()}
	}
	if err := tmp.Close(); err != nil {
		return GoDBError{IOError, err.Error()}
	}
	if err := os.Rename(tmpPath, lf.path); err != nil {
		return GoDBError{IOError, err.Error()}
	}

	lf.file.Close()
	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return GoDBError{IOError, err.Error()}
	}
	lf.file = f
	lf.offset = writeAt
	lf.tidToFirst = newTidToFirst
	return nil
}

// encodeRecord re-serializes rec as it will appear at newStart once
// truncation has dropped shift bytes from the front of the log: its own
// footer is rewritten to point at newStart instead of its pre-truncation
// offset, and a CHECKPOINT record's payload offsets are each shifted by
// the same amount.
func encodeRecord(rec *decodedRecord, newStart, shift int64) []byte {
	buf := new(bytes.Buffer)
	writeInt32(buf, int32(rec.typ))
	writeInt64(buf, int64(rec.tid))
	switch rec.typ {
	case UpdateRecord:
		writePageImageRaw(buf, rec.before)
		writePageImageRaw(buf, rec.after)
	case CheckpointRecord:
		writeInt32(buf, int32(len(rec.checkpoint)))
		for tid, off := range rec.checkpoint {
			writeInt64(buf, int64(tid))
			writeInt64(buf, off-shift)
		}
	}
	writeInt64(buf, newStart)
	return buf.Bytes()
}

// writePageImageRaw re-frames an already-decoded page image, the
// truncation-time counterpart to writePageImage (which instead marshals a
// live Page).
func writePageImageRaw(buf *bytes.Buffer, img *pageImage) {
	writeUTF8(buf, img.pageClass)
	writeUTF8(buf, img.idClass)
	writeInt32(buf, int32(len(img.idArgs)))
	for _, a := range img.idArgs {
		writeInt64(buf, a)
	}
	writeInt32(buf, int32(len(img.data)))
	buf.Write(img.data)
}

// Rollback undoes tid's updates by walking the log backward from the tail,
// following each record's trailing start_offset pointer, installing each
// UPDATE record's before-image into the buffer pool (evicting any cached
// after-image first) until it reaches tid's BEGIN offset.
func (lf *LogFile) Rollback(tid TransactionID) error {
	lf.mu.Lock()
	beginOffset, known := lf.tidToFirst[tid]
	fileEnd := lf.offset
	lf.mu.Unlock()
	if !known {
		return GoDBError{UnknownTransactionError, "rollback of unknown transaction"}
	}

	offset := fileEnd
	for offset > beginOffset {
		rec, prevOffset, err := lf.readRecordBackward(offset)
		if err != nil {
			return err
		}
		offset = prevOffset
		if rec.tid != tid {
			continue
		}
		if rec.typ == BeginRecord {
			break
		}
		if rec.typ == UpdateRecord {
			before, err := rec.before.reconstruct(lf.catalog)
			if err != nil {
				return err
			}
			lf.bp.Logger.Printf("rollback: tid %d page %v", tid, before.ID())
			lf.bp.discardPage(before.ID())
			before.SetDirty(tid, true)
			lf.bp.installPage(before)
		}
	}
	return nil
}

type decodedRecord struct {
	typ         LogRecordType
	tid         TransactionID
	before      *pageImage
	after       *pageImage
	checkpoint  map[TransactionID]int64
	startOffset int64
}

// readRecordBackward reads the record whose trailing start_offset pointer
// is stored just before tailOffset, returning the record and the offset at
// which it began (so the caller can continue walking backward).
func (lf *LogFile) readRecordBackward(tailOffset int64) (*decodedRecord, int64, error) {
	footerOffset := tailOffset - 8
	start, _, err := readInt64At(lf.file, footerOffset)
	if err != nil {
		return nil, 0, GoDBError{IOError, err.Error()}
	}
	rec, _, err := lf.readRecordForward(start)
	if err != nil {
		return nil, 0, err
	}
	return rec, start, nil
}

// readRecordForward decodes the record starting at offset, returning the
// offset just past its trailing start_offset footer.
func (lf *LogFile) readRecordForward(offset int64) (*decodedRecord, int64, error) {
	typRaw, offset, err := readInt32At(lf.file, offset)
	if err != nil {
		return nil, offset, GoDBError{IOError, err.Error()}
	}
	typ := LogRecordType(typRaw)
	tidRaw, offset, err := readInt64At(lf.file, offset)
	if err != nil {
		return nil, offset, GoDBError{IOError, err.Error()}
	}
	rec := &decodedRecord{typ: typ, tid: TransactionID(tidRaw)}

	switch typ {
	case UpdateRecord:
		before, o, err := readPageImageAt(lf.file, offset)
		if err != nil {
			return nil, offset, GoDBError{IOError, err.Error()}
		}
		offset = o
		after, o, err := readPageImageAt(lf.file, offset)
		if err != nil {
			return nil, offset, GoDBError{IOError, err.Error()}
		}
		offset = o
		rec.before, rec.after = before, after
	case CheckpointRecord:
		count, o, err := readInt32At(lf.file, offset)
		if err != nil {
			return nil, offset, GoDBError{IOError, err.Error()}
		}
		offset = o
		rec.checkpoint = make(map[TransactionID]int64, count)
		for i := int32(0); i < count; i++ {
			var tv, ov int64
			tv, offset, err = readInt64At(lf.file, offset)
			if err != nil {
				return nil, offset, GoDBError{IOError, err.Error()}
			}
			ov, offset, err = readInt64At(lf.file, offset)
			if err != nil {
				return nil, offset, GoDBError{IOError, err.Error()}
			}
			rec.checkpoint[TransactionID(tv)] = ov
		}
	}

	footer, o, err := readInt64At(lf.file, offset)
	if err != nil {
		return nil, offset, GoDBError{IOError, err.Error()}
	}
	rec.startOffset = footer
	return rec, o, nil
}

// Recover replays the log: it seeds tidToFirstLogRecord from the last
// checkpoint (if any), REDOes every UPDATE record forward to the end of the
// log by writing its after-image into the buffer pool, then UNDOes every
// update belonging to a transaction that never committed or aborted (a
// "loser") by installing its before-image.
func (lf *LogFile) Recover() error {
	lf.mu.Lock()
	checkpointOff, err := lf.readCheckpointOffset()
	if err != nil {
		lf.mu.Unlock()
		return err
	}

	start := int64(logHeaderSize)
	losers := make(map[TransactionID]int64)

	if checkpointOff >= 0 {
		rec, _, err := lf.readRecordForward(checkpointOff)
		if err != nil {
			lf.mu.Unlock()
			return err
		}
		for tid, off := range rec.checkpoint {
			losers[tid] = off
		}
		start = checkpointOff
	}
	fileEnd := lf.offset
	lf.mu.Unlock()

	// REDO forward pass.
	offset := start
	for offset < fileEnd {
		rec, next, err := lf.readRecordForward(offset)
		if err != nil {
			return err
		}
		offset = next

		switch rec.typ {
		case BeginRecord:
			losers[rec.tid] = rec.startOffset
		case CommitRecord, AbortRecord:
			delete(losers, rec.tid)
		case UpdateRecord:
			after, err := rec.after.reconstruct(lf.catalog)
			if err != nil {
				return err
			}
			lf.bp.Logger.Printf("redo: tid %d page %v", rec.tid, after.ID())
			lf.bp.discardPage(after.ID())
			lf.bp.installPage(after)
		}
	}

	// UNDO pass: for every remaining loser, walk forward from its first
	// record and install each UPDATE's before-image.
	for tid, firstOff := range losers {
		off := firstOff
		for off < fileEnd {
			rec, next, err := lf.readRecordForward(off)
			if err != nil {
				return err
			}
			off = next
			if rec.tid != tid || rec.typ != UpdateRecord {
				continue
			}
			before, err := rec.before.reconstruct(lf.catalog)
			if err != nil {
				return err
			}
			lf.bp.Logger.Printf("undo: tid %d page %v", tid, before.ID())
			lf.bp.discardPage(before.ID())
			lf.bp.installPage(before)
		}
	}

	lf.mu.Lock()
	lf.tidToFirst = losers
	lf.mu.Unlock()
	return nil
}

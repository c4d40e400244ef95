// Command txdb is a line-oriented shell over the storage core: every
// statement runs in its own implicit transaction, committing on success and
// aborting on error, unless an explicit BEGIN has opened a transaction
// spanning multiple lines, in which case COMMIT or ABORT closes it.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/xwb1989/sqlparser"

	"github.com/tkdb/txdb/storage"
)

func main() {
	dataDir := flag.String("data", "./data", "directory holding the log and table files")
	numPages := flag.Int("pages", 100, "buffer pool capacity, in pages")
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("txdb: %v", err)
	}

	cfg := storage.DefaultConfig()
	cfg.NumPages = *numPages
	db, err := storage.Open(*dataDir, cfg)
	if err != nil {
		log.Fatalf("txdb: opening database: %v", err)
	}

	sh := &shell{db: db, dataDir: *dataDir, tables: map[string]*storage.HeapFile{}}

	rl, err := readline.New("txdb> ")
	if err != nil {
		log.Fatalf("txdb: %v", err)
	}
	defer rl.Close()

	fmt.Println("txdb ready. CREATE TABLE to declare a table, then RECOVER to replay its WAL.")
	fmt.Println("Statements each run in an implicit transaction unless BEGIN opens one across lines. \\q to quit.")
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("txdb: %v", err)
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == `\q` {
			break
		}
		sh.run(line)
	}

	if sh.explicit != nil {
		fmt.Println("aborting open transaction at exit")
		sh.endExplicit(false)
	}

	if err := db.Shutdown(); err != nil {
		log.Fatalf("txdb: shutdown checkpoint: %v", err)
	}
}

// shell tracks the table catalog by name and dispatches one line at a time.
// Table declarations are session-local: nothing persists the catalog
// itself, so RECOVER only replays anything meaningful for tables that have
// already been declared with CREATE TABLE. explicit holds the tid of a
// BEGIN...COMMIT/ABORT span the user opened across multiple lines; while
// it is set, statements run under it instead of getting their own implicit
// per-line transaction.
type shell struct {
	db       *storage.Database
	dataDir  string
	tables   map[string]*storage.HeapFile
	explicit *storage.TransactionID
}

// BEGIN, COMMIT, and ABORT aren't valid SQL, so sqlparser never sees them:
// run recognizes them with the same handwritten uppercase-and-compare
// tokenizer it already uses for CHECKPOINT and RECOVER.
func (sh *shell) run(line string) {
	upper := strings.ToUpper(strings.TrimSpace(line))
	switch {
	case upper == "CHECKPOINT":
		if err := sh.db.Log.LogCheckpoint(); err != nil {
			fmt.Println("error:", err)
		}
		return
	case upper == "RECOVER":
		if err := sh.db.Recover(); err != nil {
			fmt.Println("error:", err)
		}
		return
	case upper == "BEGIN":
		sh.beginExplicit()
		return
	case upper == "COMMIT":
		sh.endExplicit(true)
		return
	case upper == "ABORT":
		sh.endExplicit(false)
		return
	case strings.HasPrefix(upper, "CREATE TABLE"):
		sh.createTable(line)
		return
	}

	stmt, err := sqlparser.Parse(line)
	if err != nil {
		fmt.Println("parse error:", err)
		return
	}

	if sh.explicit != nil {
		if err := sh.exec(*sh.explicit, stmt); err != nil {
			fmt.Println("error:", err)
		}
		return
	}

	tid := storage.NewTID()
	if err := sh.db.Log.LogBegin(tid); err != nil {
		fmt.Println("error:", err)
		return
	}
	if err := sh.exec(tid, stmt); err != nil {
		sh.db.BufferPool.TransactionComplete(tid, false)
		fmt.Println("error (aborted):", err)
		return
	}
	if err := sh.db.BufferPool.TransactionComplete(tid, true); err != nil {
		fmt.Println("error committing:", err)
	}
}

// beginExplicit opens a transaction that stays open across REPL lines
// until a matching COMMIT or ABORT, suspending the usual implicit
// per-line transaction.
func (sh *shell) beginExplicit() {
	if sh.explicit != nil {
		fmt.Println("error: a transaction is already open, COMMIT or ABORT it first")
		return
	}
	tid := storage.NewTID()
	if err := sh.db.Log.LogBegin(tid); err != nil {
		fmt.Println("error:", err)
		return
	}
	sh.explicit = &tid
}

func (sh *shell) endExplicit(commit bool) {
	if sh.explicit == nil {
		fmt.Println("error: no transaction is open")
		return
	}
	tid := *sh.explicit
	sh.explicit = nil
	if err := sh.db.BufferPool.TransactionComplete(tid, commit); err != nil {
		fmt.Println("error:", err)
	}
}

// createTable is a tiny non-SQL verb: "CREATE TABLE name (id int, val
// string)". sqlparser targets MySQL-family DDL the storage core has no use
// for (no secondary indexes, no foreign keys), so schema declaration here
// is handwritten rather than routed through it.
func (sh *shell) createTable(line string) {
	open := strings.Index(line, "(")
	shut := strings.LastIndex(line, ")")
	if open < 0 || shut < open {
		fmt.Println("error: expected CREATE TABLE name (col type, ...)")
		return
	}
	name := strings.TrimSpace(line[len("CREATE TABLE"):open])
	cols := strings.Split(line[open+1:shut], ",")

	desc := storage.TupleDesc{}
	for _, c := range cols {
		fields := strings.Fields(strings.TrimSpace(c))
		if len(fields) != 2 {
			fmt.Println("error: malformed column spec:", c)
			return
		}
		ft := storage.FieldType{Fname: fields[0]}
		switch strings.ToLower(fields[1]) {
		case "int":
			ft.Ftype = storage.IntType
		case "string":
			ft.Ftype = storage.StringType
		default:
			fmt.Println("error: unknown column type:", fields[1])
			return
		}
		desc.Fields = append(desc.Fields, ft)
	}

	hf, err := storage.NewHeapFile(filepath.Join(sh.dataDir, name+".tbl"), &desc, sh.db.BufferPool)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	sh.db.Catalog.AddTable(name, hf)
	sh.tables[name] = hf
}

func (sh *shell) exec(tid storage.TransactionID, stmt sqlparser.Statement) error {
	switch s := stmt.(type) {
	case *sqlparser.Insert:
		return sh.execInsert(tid, s)
	case *sqlparser.Delete:
		return sh.execDelete(tid, s)
	case *sqlparser.Select:
		return sh.execSelect(tid, s)
	default:
		return fmt.Errorf("unsupported statement: %T", stmt)
	}
}

func (sh *shell) execInsert(tid storage.TransactionID, ins *sqlparser.Insert) error {
	name := sqlparser.String(ins.Table)
	hf, ok := sh.tables[name]
	if !ok {
		return fmt.Errorf("no such table: %s", name)
	}
	values, ok := ins.Rows.(sqlparser.Values)
	if !ok {
		return fmt.Errorf("unsupported insert source")
	}
	for _, row := range values {
		t, err := rowToTuple(row, hf.Descriptor())
		if err != nil {
			return err
		}
		if err := sh.db.BufferPool.InsertTuple(tid, hf.ID(), t); err != nil {
			return err
		}
	}
	return nil
}

func (sh *shell) execDelete(tid storage.TransactionID, del *sqlparser.Delete) error {
	name := sqlparser.String(del.TableExprs)
	hf, ok := sh.tables[strings.TrimSpace(name)]
	if !ok {
		return fmt.Errorf("no such table: %s", strings.TrimSpace(name))
	}
	iter, err := hf.Iterator(tid)
	if err != nil {
		return err
	}
	for {
		t, err := iter()
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}
		if err := sh.db.BufferPool.DeleteTuple(tid, hf.ID(), t); err != nil {
			return err
		}
	}
}

func (sh *shell) execSelect(tid storage.TransactionID, sel *sqlparser.Select) error {
	name := sqlparser.String(sel.From)
	hf, ok := sh.tables[strings.TrimSpace(name)]
	if !ok {
		return fmt.Errorf("no such table: %s", strings.TrimSpace(name))
	}
	iter, err := hf.Iterator(tid)
	if err != nil {
		return err
	}
	for {
		t, err := iter()
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}
		printTuple(t)
	}
}

func rowToTuple(row sqlparser.ValTuple, desc *storage.TupleDesc) (*storage.Tuple, error) {
	if len(row) != len(desc.Fields) {
		return nil, fmt.Errorf("expected %d values, got %d", len(desc.Fields), len(row))
	}
	fields := make([]storage.DBValue, len(row))
	for i, expr := range row {
		sqlVal, ok := expr.(*sqlparser.SQLVal)
		if !ok {
			return nil, fmt.Errorf("unsupported value expression: %T", expr)
		}
		switch desc.Fields[i].Ftype {
		case storage.IntType:
			n, err := strconv.ParseInt(string(sqlVal.Val), 10, 64)
			if err != nil {
				return nil, err
			}
			fields[i] = storage.IntField{Value: n}
		case storage.StringType:
			fields[i] = storage.StringField{Value: string(sqlVal.Val)}
		}
	}
	return &storage.Tuple{Desc: *desc, Fields: fields}, nil
}

func printTuple(t *storage.Tuple) {
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		switch v := f.(type) {
		case storage.IntField:
			parts[i] = strconv.FormatInt(v.Value, 10)
		case storage.StringField:
			parts[i] = v.Value
		}
	}
	fmt.Println(strings.Join(parts, "\t"))
}

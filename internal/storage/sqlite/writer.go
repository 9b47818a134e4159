package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"refiner/internal/storage"
)

// Writer implements storage.Writer for a SQLite database file.
//
// Key design points vs Postgres:
//   - SQLite DDL is transactional but "recreate" means replacing a file. The writer builds
//     the whole store in a sibling temp file inside one transaction, then renames it over
//     the target. On any failure the temp file is removed and the previous file (if any)
//     is untouched.
//   - SQLite has no native timestamp type. Timestamps are written as fixed-width UTC
//     ISO-8601 text so they sort correctly and DATE()/strftime() work in ad hoc queries.
//   - Foreign keys are only enforced with PRAGMA foreign_keys=ON, set through the DSN.
type Writer struct {
	path string

	// newSuffix names the temp file. Tests may replace it.
	newSuffix func() string
}

func init() {
	storage.Register("sqlite", storage.Backend{
		Open:           New,
		CreateTableSQL: buildCreateTableSQL,
	})
}

// New returns a Writer targeting the file named by cfg.DSN. Nothing is created until Write.
func New(ctx context.Context, cfg storage.Config) (storage.Writer, error) {
	path := pathFromDSN(cfg.DSN)
	if path == "" {
		return nil, fmt.Errorf("sqlite: dsn must name a database file")
	}
	return &Writer{
		path:      path,
		newSuffix: func() string { return uuid.NewString() },
	}, nil
}

func (w *Writer) Dialect() string { return "sqlite" }

// Path is the target database file.
func (w *Writer) Path() string { return w.path }

func (w *Writer) Close() error { return nil }

// Write recreates the database file with tables and plan.
func (w *Writer) Write(ctx context.Context, tables []storage.TableSpec, plan storage.LoadPlan) (storage.Counts, error) {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return nil, &storage.PersistenceError{Op: "open", Err: err}
	}

	tmp := w.path + ".tmp-" + w.newSuffix()
	counts, err := w.writeFile(ctx, tmp, tables, plan)
	if err != nil {
		removeWithSidecars(tmp)
		return nil, err
	}

	if err := os.Rename(tmp, w.path); err != nil {
		removeWithSidecars(tmp)
		return nil, &storage.PersistenceError{Op: "replace", Err: err}
	}
	return counts, nil
}

func (w *Writer) writeFile(ctx context.Context, path string, tables []storage.TableSpec, plan storage.LoadPlan) (counts storage.Counts, err error) {
	db, err := sql.Open("sqlite", fileDSN(path))
	if err != nil {
		return nil, &storage.PersistenceError{Op: "open", Err: err}
	}
	// A single connection keeps every statement on the transaction's connection and
	// makes PRAGMAs from the DSN apply deterministically.
	db.SetMaxOpenConns(1)
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = &storage.PersistenceError{Op: "close", Err: cerr}
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return nil, &storage.PersistenceError{Op: "open", Err: err}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	counts, err = storage.Load(ctx, &sqlTx{tx: tx}, buildCreateTableSQL, tables, plan)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, &storage.PersistenceError{Op: "commit", Err: err}
	}
	return counts, nil
}

// sqlTx adapts *sql.Tx to storage.Tx.
type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) Exec(ctx context.Context, query string) error {
	_, err := s.tx.ExecContext(ctx, query)
	return err
}

func (s *sqlTx) InsertReturningID(ctx context.Context, t storage.TableSpec, columns []string, row storage.Row) (int64, error) {
	q, args := buildInsertSQL(t.Name, columns, []storage.Row{row})
	res, err := s.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqlTx) InsertRows(ctx context.Context, t storage.TableSpec, columns []string, rows []storage.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, args := buildInsertSQL(t.Name, columns, rows)
	res, err := s.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *sqlTx) TableColumns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.tx.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// buildInsertSQL builds a multi-row INSERT with "?" placeholders. Values are converted
// with bindValue so timestamps and booleans land in their SQLite representation.
func buildInsertSQL(table string, columns []string, rows []storage.Row) (string, []any) {
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			args = append(args, bindValue(v))
		}
	}
	return b.String(), args
}

func bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return encodeTime(t)
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	default:
		return v
	}
}

// pathFromDSN accepts a bare path or a "file:" URI and returns the file path.
func pathFromDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}

func fileDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)"
}

func removeWithSidecars(path string) {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}

var _ storage.Writer = (*Writer)(nil)

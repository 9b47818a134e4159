package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"refiner/internal/storage"
)

// Writer implements storage.Writer for Microsoft SQL Server.
//
// SQL Server DDL is transactional, so recreate is DROP TABLE IF EXISTS followed by
// CREATE TABLE and the inserts, all inside one transaction. Generated ids are read back
// with OUTPUT INSERTED.
type Writer struct {
	db dbConn
}

// New opens cfg.DSN with the "sqlserver" driver and validates connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.Writer, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "open", Err: err}
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, &storage.PersistenceError{Op: "open", Err: err}
	}
	return &Writer{db: &sqlDB{db: raw}}, nil
}

func (w *Writer) Dialect() string { return "mssql" }

// Close releases database resources held by the writer.
func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Write drops and recreates tables, then loads plan, in a single transaction.
func (w *Writer) Write(ctx context.Context, tables []storage.TableSpec, plan storage.LoadPlan) (storage.Counts, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, buildDropTableSQL(tables[i].Name)); err != nil {
			return nil, &storage.PersistenceError{Op: "drop", Table: tables[i].Name, Err: err}
		}
	}

	counts, err := storage.Load(ctx, &loadTx{tx: tx}, buildCreateTableSQL, tables, plan)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, &storage.PersistenceError{Op: "commit", Err: err}
	}
	committed = true
	return counts, nil
}

// loadTx adapts txConn to storage.Tx.
type loadTx struct {
	tx txConn
}

func (l *loadTx) Exec(ctx context.Context, query string) error {
	_, err := l.tx.ExecContext(ctx, query)
	return err
}

func (l *loadTx) InsertReturningID(ctx context.Context, t storage.TableSpec, columns []string, row storage.Row) (int64, error) {
	if t.PrimaryKey == nil {
		return 0, fmt.Errorf("table %s has no primary key to return", t.Name)
	}
	q, args := buildInsertSQL(t.Name, columns, []storage.Row{row}, t.PrimaryKey.Name)
	var id int64
	if err := l.tx.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (l *loadTx) InsertRows(ctx context.Context, t storage.TableSpec, columns []string, rows []storage.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, args := buildInsertSQL(t.Name, columns, rows, "")
	res, err := l.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (l *loadTx) TableColumns(ctx context.Context, table string) ([]string, error) {
	schema, name := splitQualifiedName(table)
	var schemaArg any
	if schema != "" {
		schemaArg = schema
	}
	return l.tx.QueryStrings(ctx,
		`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
		  WHERE TABLE_NAME = @p1 AND TABLE_SCHEMA = COALESCE(@p2, SCHEMA_NAME())
		  ORDER BY ORDINAL_POSITION`,
		name, schemaArg)
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	// QueryStrings runs a single-column query and collects the values.
	QueryStrings(ctx context.Context, query string, args ...any) ([]string, error)
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

// sqlTx wraps *sql.Tx to implement txConn.
type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *sqlTx) QueryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *sqlTx) Commit() error { return s.tx.Commit() }

func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

// compile-time sanity checks (no runtime cost).
var (
	_ dbConn         = (*sqlDB)(nil)
	_ txConn         = (*sqlTx)(nil)
	_ storage.Writer = (*Writer)(nil)
)

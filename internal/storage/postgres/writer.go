package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"refiner/internal/storage"
)

/*
Writer implements storage.Writer for Postgres.

Recreate semantics come from transactional DDL: every table is dropped, created and
loaded inside one transaction, so a failed run leaves the previous tables untouched.
Surrogate ids are read back with INSERT ... RETURNING.
*/
type Writer struct {
	pool *pgxpool.Pool
}

// New connects a pool to cfg.DSN and checks it is reachable.
func New(ctx context.Context, cfg storage.Config) (storage.Writer, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "open", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &storage.PersistenceError{Op: "open", Err: err}
	}
	return &Writer{pool: pool}, nil
}

func (w *Writer) Dialect() string { return "postgres" }

// Close closes the connection pool.
func (w *Writer) Close() error {
	w.pool.Close()
	return nil
}

// Write drops and recreates tables, then loads plan, in a single transaction.
func (w *Writer) Write(ctx context.Context, tables []storage.TableSpec, plan storage.LoadPlan) (storage.Counts, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Children first so foreign keys never block a drop.
	for i := len(tables) - 1; i >= 0; i-- {
		if _, err := tx.Exec(ctx, buildDropTableSQL(tables[i].Name)); err != nil {
			return nil, &storage.PersistenceError{Op: "drop", Table: tables[i].Name, Err: err}
		}
	}

	counts, err := storage.Load(ctx, &pgTx{tx: tx}, buildCreateTableSQL, tables, plan)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, &storage.PersistenceError{Op: "commit", Err: err}
	}
	return counts, nil
}

// pgTx adapts pgx.Tx to storage.Tx.
type pgTx struct {
	tx pgx.Tx
}

func (p *pgTx) Exec(ctx context.Context, query string) error {
	_, err := p.tx.Exec(ctx, query)
	return err
}

func (p *pgTx) InsertReturningID(ctx context.Context, t storage.TableSpec, columns []string, row storage.Row) (int64, error) {
	if t.PrimaryKey == nil {
		return 0, fmt.Errorf("table %s has no primary key to return", t.Name)
	}
	q, args := buildInsertSQL(t.Name, columns, []storage.Row{row}, t.PrimaryKey.Name)
	var id int64
	if err := p.tx.QueryRow(ctx, q, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (p *pgTx) InsertRows(ctx context.Context, t storage.TableSpec, columns []string, rows []storage.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, args := buildInsertSQL(t.Name, columns, rows, "")
	cmd, err := p.tx.Exec(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (p *pgTx) TableColumns(ctx context.Context, table string) ([]string, error) {
	schema, name := splitQualifiedName(table)
	q := `SELECT column_name FROM information_schema.columns
	       WHERE table_schema = current_schema() AND table_name = $1
	       ORDER BY ordinal_position`
	args := []any{name}
	if schema != "" {
		q = `SELECT column_name FROM information_schema.columns
		      WHERE table_schema = $2 AND table_name = $1
		      ORDER BY ordinal_position`
		args = append(args, schema)
	}

	rows, err := p.tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

var _ storage.Writer = (*Writer)(nil)

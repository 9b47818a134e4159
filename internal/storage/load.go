package storage

import (
	"context"
	"fmt"
	"strings"
)

// maxParamsPerInsert keeps multi-row inserts under the smallest bind-parameter limit
// among the backends (SQL Server allows 2100).
const maxParamsPerInsert = 2000

// Tx is the transactional surface Load needs. Each backend adapts its own driver
// transaction to it.
type Tx interface {
	// Exec runs a statement without arguments (DDL).
	Exec(ctx context.Context, query string) error

	// InsertReturningID inserts one row and returns its generated primary key.
	InsertReturningID(ctx context.Context, t TableSpec, columns []string, row Row) (int64, error)

	// InsertRows inserts rows with a single statement and reports rows affected.
	InsertRows(ctx context.Context, t TableSpec, columns []string, rows []Row) (int64, error)

	// TableColumns lists the columns the store actually created for table.
	TableColumns(ctx context.Context, table string) ([]string, error)
}

// Load runs the shared write algorithm inside tx:
//
//  1. create every table with ddl, in order
//  2. verify the created columns against tables
//  3. insert parents one by one, recording surrogate ids in an arena indexed by ParentRef
//  4. insert independent row sets
//  5. insert children with every ParentRef replaced by its surrogate id
//
// The caller owns tx and must roll back on error and commit on success.
func Load(ctx context.Context, tx Tx, ddl DDLBuilder, tables []TableSpec, plan LoadPlan) (Counts, error) {
	for _, t := range tables {
		stmt, err := ddl(t)
		if err != nil {
			return nil, persistErr("ddl", t.Name, err)
		}
		if err := tx.Exec(ctx, stmt); err != nil {
			return nil, persistErr("ddl", t.Name, err)
		}
	}

	for _, t := range tables {
		actual, err := tx.TableColumns(ctx, t.Name)
		if err != nil {
			return nil, persistErr("verify", t.Name, err)
		}
		if err := VerifyColumns(t, actual); err != nil {
			return nil, err
		}
	}

	counts := Counts{}
	for _, t := range tables {
		counts[t.Name] = 0
	}

	parentSpec, ok := FindTable(tables, plan.Parents.Table)
	if !ok {
		return nil, &SchemaMismatchError{Table: plan.Parents.Table, Reason: "table not in schema definition"}
	}
	ids := make([]int64, len(plan.Parents.Rows))
	for i, row := range plan.Parents.Rows {
		if err := checkRow(parentSpec, plan.Parents.Columns, row); err != nil {
			return nil, err
		}
		id, err := tx.InsertReturningID(ctx, parentSpec, plan.Parents.Columns, row)
		if err != nil {
			return nil, persistErr("insert", parentSpec.Name, fmt.Errorf("row %d: %w", i, err))
		}
		ids[i] = id
	}
	counts[parentSpec.Name] += int64(len(ids))

	for _, rs := range plan.Independent {
		n, err := insertSet(ctx, tx, tables, rs, nil)
		if err != nil {
			return nil, err
		}
		counts[rs.Table] += n
	}

	for _, rs := range plan.Children {
		n, err := insertSet(ctx, tx, tables, rs, ids)
		if err != nil {
			return nil, err
		}
		counts[rs.Table] += n
	}

	return counts, nil
}

func insertSet(ctx context.Context, tx Tx, tables []TableSpec, rs RowSet, ids []int64) (int64, error) {
	if len(rs.Rows) == 0 {
		return 0, nil
	}
	spec, ok := FindTable(tables, rs.Table)
	if !ok {
		return 0, &SchemaMismatchError{Table: rs.Table, Reason: "table not in schema definition"}
	}

	batch := maxParamsPerInsert / max(1, len(rs.Columns))
	if batch < 1 {
		batch = 1
	}

	var total int64
	for start := 0; start < len(rs.Rows); start += batch {
		end := min(start+batch, len(rs.Rows))
		chunk := make([]Row, 0, end-start)
		for i := start; i < end; i++ {
			if err := checkRow(spec, rs.Columns, rs.Rows[i]); err != nil {
				return total, err
			}
			row, err := ResolveRefs(rs.Rows[i], ids)
			if err != nil {
				return total, persistErr("insert", rs.Table, fmt.Errorf("row %d: %w", i, err))
			}
			chunk = append(chunk, row)
		}
		n, err := tx.InsertRows(ctx, spec, rs.Columns, chunk)
		if err != nil {
			return total, persistErr("insert", rs.Table, err)
		}
		total += n
	}
	return total, nil
}

// ResolveRefs returns a copy of row with every ParentRef replaced by ids[ref].
// A reference outside ids is an error: children are never written against a parent
// that has not been inserted.
func ResolveRefs(row Row, ids []int64) (Row, error) {
	out := make(Row, len(row))
	for i, v := range row {
		ref, ok := v.(ParentRef)
		if !ok {
			out[i] = v
			continue
		}
		if int(ref) < 0 || int(ref) >= len(ids) {
			return nil, fmt.Errorf("unresolved parent reference %d (have %d parents)", ref, len(ids))
		}
		out[i] = ids[ref]
	}
	return out, nil
}

func checkRow(t TableSpec, columns []string, row Row) error {
	if len(row) != len(columns) {
		return &SchemaMismatchError{
			Table:  t.Name,
			Reason: fmt.Sprintf("row has %d values for %d columns", len(row), len(columns)),
		}
	}
	return nil
}

// VerifyColumns compares the columns a store reports for t with the definition.
// Names are compared case-insensitively; order is not significant.
func VerifyColumns(t TableSpec, actual []string) error {
	if len(actual) == 0 {
		return &SchemaMismatchError{Table: t.Name, Reason: "table was not created"}
	}
	want := map[string]bool{}
	for _, c := range t.AllColumnNames() {
		want[strings.ToLower(c)] = true
	}
	got := map[string]bool{}
	for _, c := range actual {
		lc := strings.ToLower(c)
		got[lc] = true
		if !want[lc] {
			return &SchemaMismatchError{Table: t.Name, Column: c, Reason: "column not in schema definition"}
		}
	}
	for _, c := range t.AllColumnNames() {
		if !got[strings.ToLower(c)] {
			return &SchemaMismatchError{Table: t.Name, Column: c, Reason: "column missing from created table"}
		}
	}
	return nil
}

package storage

import "sort"

// ParentRef is a logical reference to a parent row that has not been inserted yet.
// Its value is the position of the parent in LoadPlan.Parents.Rows. Writers replace it
// with the real surrogate id inside the same transaction, before children are flushed.
type ParentRef int

// Row is one set of column values aligned with RowSet.Columns. Nil is SQL NULL.
type Row []any

// RowSet is a batch of rows destined for a single table.
type RowSet struct {
	Table   string
	Columns []string
	Rows    []Row
}

// LoadPlan is everything a writer needs to populate a fresh store, in dependency order.
//
//   - Parents rows are inserted one at a time so their generated ids can be captured.
//   - Independent row sets have no foreign keys (dataset_metadata).
//   - Children may hold ParentRef values in any column; they are resolved before insert.
type LoadPlan struct {
	Parents     RowSet
	Independent []RowSet
	Children    []RowSet
}

// Tables lists every table the plan touches, parents first.
func (p LoadPlan) Tables() []string {
	out := []string{p.Parents.Table}
	for _, rs := range p.Independent {
		out = append(out, rs.Table)
	}
	for _, rs := range p.Children {
		out = append(out, rs.Table)
	}
	return out
}

// RowCount is the total number of rows in the plan.
func (p LoadPlan) RowCount() int {
	n := len(p.Parents.Rows)
	for _, rs := range p.Independent {
		n += len(rs.Rows)
	}
	for _, rs := range p.Children {
		n += len(rs.Rows)
	}
	return n
}

// Counts maps table name to number of rows inserted.
type Counts map[string]int64

// Total sums all table counts.
func (c Counts) Total() int64 {
	var n int64
	for _, v := range c {
		n += v
	}
	return n
}

// Tables returns the table names in c, sorted.
func (c Counts) Tables() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

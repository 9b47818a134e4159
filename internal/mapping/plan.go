package mapping

import (
	"fmt"
	"sort"

	"refiner/internal/schema"
	"refiner/internal/storage"
)

// BuildPlan lays bundles and the metadata row out as a storage.LoadPlan. Column order
// comes from tables, so rows always line up with the DDL built from the same definitions.
//
// Errors:
//   - *storage.SchemaMismatchError when a row names a column the table does not define,
//     leaves a NOT NULL column empty, or a required table is missing from tables.
func BuildPlan(tables []storage.TableSpec, bundles []Bundle, meta Values) (storage.LoadPlan, error) {
	instr, err := lookup(tables, schema.TableInstructions)
	if err != nil {
		return storage.LoadPlan{}, err
	}
	metaSpec, err := lookup(tables, schema.TableMetadata)
	if err != nil {
		return storage.LoadPlan{}, err
	}

	plan := storage.LoadPlan{
		Parents: storage.RowSet{Table: instr.Name, Columns: instr.ColumnNames(), Rows: make([]storage.Row, 0, len(bundles))},
	}
	for i, b := range bundles {
		if int(b.Ref) != i {
			return storage.LoadPlan{}, fmt.Errorf("mapping: bundle %d carries parent ref %d", i, b.Ref)
		}
		row, err := order(instr, b.Instruction)
		if err != nil {
			return storage.LoadPlan{}, err
		}
		plan.Parents.Rows = append(plan.Parents.Rows, row)
	}

	metaRow, err := order(metaSpec, meta)
	if err != nil {
		return storage.LoadPlan{}, err
	}
	plan.Independent = []storage.RowSet{{Table: metaSpec.Name, Columns: metaSpec.ColumnNames(), Rows: []storage.Row{metaRow}}}

	for _, t := range tables {
		if t.ParentTable() != schema.TableInstructions {
			continue
		}
		rs := storage.RowSet{Table: t.Name, Columns: t.ColumnNames()}
		for _, b := range bundles {
			for _, v := range childValues(t.Name, b) {
				row, err := order(t, v)
				if err != nil {
					return storage.LoadPlan{}, err
				}
				rs.Rows = append(rs.Rows, row)
			}
		}
		plan.Children = append(plan.Children, rs)
	}
	return plan, nil
}

func childValues(table string, b Bundle) []Values {
	switch table {
	case schema.TableContext:
		if b.Context != nil {
			return []Values{b.Context}
		}
	case schema.TableDependencies:
		return b.Dependencies
	case schema.TableLintingErrors:
		return b.LintingErrors
	case schema.TableUserFeedback:
		if b.Feedback != nil {
			return []Values{b.Feedback}
		}
	}
	return nil
}

func lookup(tables []storage.TableSpec, name string) (storage.TableSpec, error) {
	t, ok := storage.FindTable(tables, name)
	if !ok {
		return storage.TableSpec{}, &storage.SchemaMismatchError{Table: name, Reason: "table not in schema definition"}
	}
	return t, nil
}

// order returns vals as a row aligned with t.ColumnNames().
func order(t storage.TableSpec, vals Values) (storage.Row, error) {
	row := make(storage.Row, len(t.Columns))
	known := make(map[string]bool, len(t.Columns))
	for i, c := range t.Columns {
		known[c.Name] = true
		v := vals[c.Name]
		if v == nil && !c.Nullable {
			return nil, &storage.SchemaMismatchError{Table: t.Name, Column: c.Name, Reason: "no value for NOT NULL column"}
		}
		row[i] = v
	}
	for _, k := range sortedKeys(vals) {
		if !known[k] {
			return nil, &storage.SchemaMismatchError{Table: t.Name, Column: k, Reason: "mapped column not in schema definition"}
		}
	}
	return row, nil
}

func sortedKeys(v Values) []string {
	out := make([]string, 0, len(v))
	for k := range v {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

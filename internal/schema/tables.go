// Package schema holds the single definition of the refined dataset's six tables.
//
// Everything that needs to know the shape of the store reads it from Tables: the
// mapper orders row values by it, writers build DDL from it, and the published schema
// document is rendered from it. Nothing else declares columns.
package schema

import "refiner/internal/storage"

const (
	TableInstructions  = "instruction_dataset"
	TableMetadata      = "dataset_metadata"
	TableContext       = "context_metadata"
	TableDependencies  = "project_dependencies"
	TableLintingErrors = "linting_errors"
	TableUserFeedback  = "user_feedback"
	PrimaryKeyColumn   = "id"
	ParentKeyColumn    = "instruction_id"
	NaturalKeyColumn   = "instruction_id"
)

func pk() *storage.PrimaryKeySpec {
	return &storage.PrimaryKeySpec{Name: PrimaryKeyColumn, Type: "serial"}
}

func col(name string, t storage.SemanticType, nullable bool) storage.ColumnSpec {
	return storage.ColumnSpec{Name: name, Type: t, Nullable: nullable}
}

func parentFK() storage.ColumnSpec {
	return storage.ColumnSpec{
		Name: ParentKeyColumn,
		Type: storage.TypeInteger,
		References: &storage.ForeignKeySpec{
			Table:    TableInstructions,
			Column:   PrimaryKeyColumn,
			OnDelete: "cascade",
		},
	}
}

// Tables returns the six table definitions in dependency order: parents and
// independent tables first, then every table that references instruction_dataset.
// A fresh slice is returned on each call.
func Tables() []storage.TableSpec {
	const (
		text = storage.TypeText
		i64  = storage.TypeInteger
		f64  = storage.TypeReal
		b    = storage.TypeBoolean
		ts   = storage.TypeTimestamp
	)

	return []storage.TableSpec{
		{
			Name:       TableInstructions,
			PrimaryKey: pk(),
			Columns: []storage.ColumnSpec{
				col("instruction_id", text, false),
				col("instruction_type", text, false),
				col("instruction", text, false),
				col("input_code", text, false),
				col("output_code", text, false),
				col("language", text, false),
				col("user_prompt", text, true),
				col("timestamp", ts, true),
				col("model_used", text, false),
				col("created_at", ts, false),
			},
			Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{NaturalKeyColumn}}},
		},
		{
			Name:       TableMetadata,
			PrimaryKey: pk(),
			Columns: []storage.ColumnSpec{
				col("version", text, false),
				col("created_at", ts, false),
				col("sample_count", i64, false),
				col("license", text, false),
				col("source", text, false),
				col("updated_at", ts, false),
			},
		},
		{
			Name:       TableContext,
			PrimaryKey: pk(),
			Columns: []storage.ColumnSpec{
				parentFK(),
				col("user_prompt", text, true),
				col("error_message", text, true),
				col("terminal_output", text, true),
				col("successful_execution", b, true),
				col("execution_time", f64, true),
				col("execution_date", ts, true),
				col("file_context", text, true),
				col("file_path", text, true),
				col("file_content", text, true),
				col("framework", text, true),
			},
			Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{ParentKeyColumn}}},
		},
		{
			Name:       TableDependencies,
			PrimaryKey: pk(),
			Columns: []storage.ColumnSpec{
				parentFK(),
				col("name", text, false),
				col("version", text, true),
			},
		},
		{
			Name:       TableLintingErrors,
			PrimaryKey: pk(),
			Columns: []storage.ColumnSpec{
				parentFK(),
				col("line", i64, true),
				col("column", i64, true),
				col("message", text, false),
				col("severity", text, false),
				col("rule", text, true),
			},
		},
		{
			Name:       TableUserFeedback,
			PrimaryKey: pk(),
			Columns: []storage.ColumnSpec{
				parentFK(),
				col("rating", i64, true),
				col("comment", text, true),
				col("was_helpful", b, true),
				col("helped_solve_problem", b, true),
			},
			Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{ParentKeyColumn}}},
		},
	}
}

// ChildTables returns the tables whose rows are owned by an instruction row, in order.
func ChildTables() []storage.TableSpec {
	var out []storage.TableSpec
	for _, t := range Tables() {
		if t.ParentTable() == TableInstructions {
			out = append(out, t)
		}
	}
	return out
}

// Lookup returns the definition of table name.
func Lookup(name string) (storage.TableSpec, bool) {
	return storage.FindTable(Tables(), name)
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"refiner/internal/schema"
	"refiner/internal/storage"
)

// ErrNotFound is returned by Reader lookups that match no row.
var ErrNotFound = errors.New("sqlite: not found")

// Reader gives read access to a refined database file. It is used by the CLI's
// inspection commands and by tests that assert on the written store.
type Reader struct {
	db *sqlx.DB
}

// OpenReader opens the database named by dsn (a path or "file:" URI).
func OpenReader(ctx context.Context, dsn string) (*Reader, error) {
	path := pathFromDSN(dsn)
	if path == "" {
		return nil, fmt.Errorf("sqlite: dsn must name a database file")
	}
	db, err := sqlx.ConnectContext(ctx, "sqlite", fileDSN(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

// CountRows returns the number of rows in table, which must be one of the refined tables.
func (r *Reader) CountRows(ctx context.Context, table string) (int64, error) {
	if _, ok := schema.Lookup(table); !ok {
		return 0, fmt.Errorf("sqlite: unknown table %q", table)
	}
	var n int64
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+sqlIdent(table)); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", table, err)
	}
	return n, nil
}

// Counts returns the row count of every refined table.
func (r *Reader) Counts(ctx context.Context) (storage.Counts, error) {
	out := storage.Counts{}
	for _, t := range schema.Tables() {
		n, err := r.CountRows(ctx, t.Name)
		if err != nil {
			return nil, err
		}
		out[t.Name] = n
	}
	return out, nil
}

type InstructionRow struct {
	ID              int64          `db:"id"`
	InstructionID   string         `db:"instruction_id"`
	InstructionType string         `db:"instruction_type"`
	Instruction     string         `db:"instruction"`
	InputCode       string         `db:"input_code"`
	OutputCode      string         `db:"output_code"`
	Language        string         `db:"language"`
	UserPrompt      sql.NullString `db:"user_prompt"`
	Timestamp       sql.NullString `db:"timestamp"`
	ModelUsed       string         `db:"model_used"`
	CreatedAt       sql.NullString `db:"created_at"`
}

type ContextRow struct {
	ID                  int64           `db:"id"`
	InstructionID       int64           `db:"instruction_id"`
	UserPrompt          sql.NullString  `db:"user_prompt"`
	ErrorMessage        sql.NullString  `db:"error_message"`
	TerminalOutput      sql.NullString  `db:"terminal_output"`
	SuccessfulExecution sql.NullBool    `db:"successful_execution"`
	ExecutionTime       sql.NullFloat64 `db:"execution_time"`
	ExecutionDate       sql.NullString  `db:"execution_date"`
	FileContext         sql.NullString  `db:"file_context"`
	FilePath            sql.NullString  `db:"file_path"`
	FileContent         sql.NullString  `db:"file_content"`
	Framework           sql.NullString  `db:"framework"`
}

type DependencyRow struct {
	ID            int64          `db:"id"`
	InstructionID int64          `db:"instruction_id"`
	Name          string         `db:"name"`
	Version       sql.NullString `db:"version"`
}

type LintingErrorRow struct {
	ID            int64          `db:"id"`
	InstructionID int64          `db:"instruction_id"`
	Line          sql.NullInt64  `db:"line"`
	Column        sql.NullInt64  `db:"column"`
	Message       string         `db:"message"`
	Severity      string         `db:"severity"`
	Rule          sql.NullString `db:"rule"`
}

type FeedbackRow struct {
	ID                 int64          `db:"id"`
	InstructionID      int64          `db:"instruction_id"`
	Rating             sql.NullInt64  `db:"rating"`
	Comment            sql.NullString `db:"comment"`
	WasHelpful         sql.NullBool   `db:"was_helpful"`
	HelpedSolveProblem sql.NullBool   `db:"helped_solve_problem"`
}

// InstructionView is one instruction row with everything that references it.
type InstructionView struct {
	Instruction   InstructionRow
	Context       *ContextRow
	Dependencies  []DependencyRow
	LintingErrors []LintingErrorRow
	Feedback      *FeedbackRow
}

// Instruction loads the instruction with natural key instructionID and its child rows.
func (r *Reader) Instruction(ctx context.Context, instructionID string) (InstructionView, error) {
	var v InstructionView
	err := r.db.GetContext(ctx, &v.Instruction,
		`SELECT id, instruction_id, instruction_type, instruction, input_code, output_code, language,
		        user_prompt, "timestamp", model_used, created_at
		   FROM instruction_dataset WHERE instruction_id = ?`, instructionID)
	if errors.Is(err, sql.ErrNoRows) {
		return InstructionView{}, fmt.Errorf("%w: instruction %q", ErrNotFound, instructionID)
	}
	if err != nil {
		return InstructionView{}, fmt.Errorf("sqlite: load instruction %q: %w", instructionID, err)
	}
	parent := v.Instruction.ID

	var c ContextRow
	err = r.db.GetContext(ctx, &c,
		`SELECT id, instruction_id, user_prompt, error_message, terminal_output, successful_execution,
		        execution_time, execution_date, file_context, file_path, file_content, framework
		   FROM context_metadata WHERE instruction_id = ?`, parent)
	switch {
	case err == nil:
		v.Context = &c
	case !errors.Is(err, sql.ErrNoRows):
		return InstructionView{}, fmt.Errorf("sqlite: load context: %w", err)
	}

	if err := r.db.SelectContext(ctx, &v.Dependencies,
		`SELECT id, instruction_id, name, version FROM project_dependencies WHERE instruction_id = ? ORDER BY id`, parent); err != nil {
		return InstructionView{}, fmt.Errorf("sqlite: load dependencies: %w", err)
	}
	if err := r.db.SelectContext(ctx, &v.LintingErrors,
		`SELECT id, instruction_id, line, "column", message, severity, rule FROM linting_errors WHERE instruction_id = ? ORDER BY id`, parent); err != nil {
		return InstructionView{}, fmt.Errorf("sqlite: load linting errors: %w", err)
	}

	var f FeedbackRow
	err = r.db.GetContext(ctx, &f,
		`SELECT id, instruction_id, rating, comment, was_helpful, helped_solve_problem
		   FROM user_feedback WHERE instruction_id = ?`, parent)
	switch {
	case err == nil:
		v.Feedback = &f
	case !errors.Is(err, sql.ErrNoRows):
		return InstructionView{}, fmt.Errorf("sqlite: load feedback: %w", err)
	}
	return v, nil
}

// Query runs an arbitrary read query and returns each row as a column→value map.
// Byte slices are returned as strings.
func (r *Reader) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		m := map[string]any{}
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				m[k] = string(b)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ParseTime parses a timestamp column value read from the store.
func ParseTime(v sql.NullString) (time.Time, bool) {
	if !v.Valid {
		return time.Time{}, false
	}
	ts, err := decodeTime(v.String)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

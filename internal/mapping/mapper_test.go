package mapping

import (
	"errors"
	"testing"
	"time"

	"refiner/internal/dataset"
	"refiner/internal/schema"
	"refiner/internal/storage"
)

var runClock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func record(id string, index int) dataset.Record {
	return dataset.Record{
		Index:           index,
		InstructionID:   id,
		InstructionType: "bug_fixing",
		Instruction:     "fix it",
		Language:        "python",
		ModelUsed:       "gpt-4o",
	}
}

func TestMap_InstructionOnly(t *testing.T) {
	t.Parallel()

	b, anomalies := Map(record("a", 0), 0, runClock)
	if len(anomalies) != 0 {
		t.Fatalf("unexpected anomalies: %+v", anomalies)
	}
	if b.Context != nil || b.Feedback != nil || len(b.Dependencies) != 0 || len(b.LintingErrors) != 0 {
		t.Fatalf("expected instruction row only: %+v", b)
	}
	if b.RowCount() != 1 {
		t.Fatalf("RowCount=%d", b.RowCount())
	}
	if b.Instruction["timestamp"] != nil || b.Instruction["user_prompt"] != nil {
		t.Fatalf("absent optionals must map to NULL: %+v", b.Instruction)
	}
	if got := b.Instruction["created_at"]; got != runClock {
		t.Fatalf("created_at=%v", got)
	}
}

func TestMap_ChildrenCarryParentRef(t *testing.T) {
	t.Parallel()

	rec := record("b", 3)
	rec.Context = dataset.Some(dataset.Context{ErrorMessage: dataset.Some("boom")})
	rec.Dependencies = []dataset.Dependency{{Name: "requests", Version: dataset.Some("2.31.0")}}
	rec.LintingErrors = []dataset.LintingError{
		{Line: dataset.Some(int64(1)), Message: "first", Severity: "error"},
		{Message: "second", Severity: "warning"},
	}
	rec.Feedback = dataset.Some(dataset.Feedback{Rating: dataset.Some(int64(4))})

	b, _ := Map(rec, 3, runClock)
	if b.RowCount() != 6 {
		t.Fatalf("RowCount=%d want 6", b.RowCount())
	}
	children := append([]Values{b.Context, b.Feedback}, b.Dependencies...)
	children = append(children, b.LintingErrors...)
	for _, c := range children {
		if ref, ok := c[schema.ParentKeyColumn].(storage.ParentRef); !ok || ref != 3 {
			t.Fatalf("child row does not reference parent 3: %+v", c)
		}
	}
	if b.LintingErrors[0]["message"] != "first" || b.LintingErrors[1]["message"] != "second" {
		t.Fatalf("linting errors out of source order: %+v", b.LintingErrors)
	}
	if b.LintingErrors[1]["line"] != nil {
		t.Fatalf("absent line must be NULL")
	}
}

func TestMap_EmptyContextEmitsNoRow(t *testing.T) {
	t.Parallel()

	rec := record("c", 0)
	rec.Context = dataset.Some(dataset.Context{})
	b, _ := Map(rec, 0, runClock)
	if b.Context != nil {
		t.Fatalf("all-null context row must not be emitted: %+v", b.Context)
	}
}

func TestMap_RatingOutOfRangeIsFlaggedAndKept(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rating  int64
		flagged bool
	}{
		{0, true},
		{1, false},
		{5, false},
		{6, true},
		{-3, true},
	}
	for _, tt := range tests {
		rec := record("r", 2)
		rec.Feedback = dataset.Some(dataset.Feedback{Rating: dataset.Some(tt.rating)})

		b, anomalies := Map(rec, 2, runClock)
		if b.Feedback["rating"] != tt.rating {
			t.Fatalf("rating %d not stored as-is: %+v", tt.rating, b.Feedback)
		}
		if flagged := len(anomalies) == 1 && anomalies[0].Kind == dataset.AnomalyRatingOutOfRange; flagged != tt.flagged {
			t.Fatalf("rating %d flagged=%v want %v (%+v)", tt.rating, flagged, tt.flagged, anomalies)
		}
		if tt.flagged && (anomalies[0].InstructionID != "r" || anomalies[0].Index != 2) {
			t.Fatalf("anomaly not attributed: %+v", anomalies[0])
		}
	}
}

func TestMapMetadata(t *testing.T) {
	t.Parallel()

	meta := dataset.Metadata{Version: "1.0.0", License: "MIT", Source: "ext", DeclaredSampleCount: dataset.Some(int64(7))}
	vals, anomalies := MapMetadata(meta, 5, runClock)
	if vals["sample_count"] != int64(5) {
		t.Fatalf("sample_count=%v want 5", vals["sample_count"])
	}
	if vals["created_at"] != runClock || vals["updated_at"] != runClock {
		t.Fatalf("timestamps not defaulted to run clock: %+v", vals)
	}
	if len(anomalies) != 1 || anomalies[0].Kind != dataset.AnomalySampleCountMismatch {
		t.Fatalf("expected sample_count_mismatch, got %+v", anomalies)
	}

	created := time.Date(2023, 12, 24, 0, 0, 0, 0, time.UTC)
	meta.CreatedAt = dataset.Some(created)
	meta.DeclaredSampleCount = dataset.Some(int64(5))
	vals, anomalies = MapMetadata(meta, 5, runClock)
	if vals["created_at"] != created || len(anomalies) != 0 {
		t.Fatalf("unexpected metadata mapping: %+v %+v", vals, anomalies)
	}
}

func TestBuildPlan_OrdersBySchema(t *testing.T) {
	t.Parallel()

	recA := record("a", 0)
	recA.Feedback = dataset.Some(dataset.Feedback{Rating: dataset.Some(int64(5))})
	recB := record("b", 1)
	recB.LintingErrors = []dataset.LintingError{{Message: "m", Severity: "error"}}

	bA, _ := Map(recA, 0, runClock)
	bB, _ := Map(recB, 1, runClock)
	meta, _ := MapMetadata(dataset.Metadata{Version: "1", License: "l", Source: "s"}, 2, runClock)

	tables := schema.Tables()
	plan, err := BuildPlan(tables, []Bundle{bA, bB}, meta)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	if plan.Parents.Table != schema.TableInstructions || len(plan.Parents.Rows) != 2 {
		t.Fatalf("parents=%+v", plan.Parents)
	}
	if plan.Parents.Rows[1][0] != "b" {
		t.Fatalf("first parent column should be instruction_id, got %v", plan.Parents.Rows[1][0])
	}
	if len(plan.Independent) != 1 || plan.Independent[0].Table != schema.TableMetadata {
		t.Fatalf("independent=%+v", plan.Independent)
	}

	wantChildren := []string{schema.TableContext, schema.TableDependencies, schema.TableLintingErrors, schema.TableUserFeedback}
	if len(plan.Children) != len(wantChildren) {
		t.Fatalf("children=%+v", plan.Children)
	}
	for i, name := range wantChildren {
		if plan.Children[i].Table != name {
			t.Fatalf("children[%d]=%s want %s", i, plan.Children[i].Table, name)
		}
	}
	lint := plan.Children[2]
	if len(lint.Rows) != 1 || lint.Rows[0][0] != storage.ParentRef(1) {
		t.Fatalf("linting row should reference parent 1: %+v", lint.Rows)
	}
	if plan.RowCount() != 5 {
		t.Fatalf("RowCount=%d want 5", plan.RowCount())
	}
}

func TestBuildPlan_SchemaMismatch(t *testing.T) {
	t.Parallel()

	meta, _ := MapMetadata(dataset.Metadata{Version: "1", License: "l", Source: "s"}, 1, runClock)

	t.Run("unknown column", func(t *testing.T) {
		t.Parallel()
		b, _ := Map(record("a", 0), 0, runClock)
		b.Instruction["surprise"] = 1
		_, err := BuildPlan(schema.Tables(), []Bundle{b}, meta)
		var sme *storage.SchemaMismatchError
		if !errors.As(err, &sme) || sme.Column != "surprise" {
			t.Fatalf("expected SchemaMismatchError on surprise, got %v", err)
		}
	})

	t.Run("null in NOT NULL column", func(t *testing.T) {
		t.Parallel()
		b, _ := Map(record("a", 0), 0, runClock)
		b.Instruction["language"] = nil
		_, err := BuildPlan(schema.Tables(), []Bundle{b}, meta)
		var sme *storage.SchemaMismatchError
		if !errors.As(err, &sme) || sme.Column != "language" {
			t.Fatalf("expected SchemaMismatchError on language, got %v", err)
		}
	})

	t.Run("missing table", func(t *testing.T) {
		t.Parallel()
		b, _ := Map(record("a", 0), 0, runClock)
		_, err := BuildPlan(schema.Tables()[2:], []Bundle{b}, meta)
		var sme *storage.SchemaMismatchError
		if !errors.As(err, &sme) || sme.Table != schema.TableInstructions {
			t.Fatalf("expected SchemaMismatchError on instruction_dataset, got %v", err)
		}
	})

	t.Run("misplaced ref", func(t *testing.T) {
		t.Parallel()
		b, _ := Map(record("a", 0), 4, runClock)
		if _, err := BuildPlan(schema.Tables(), []Bundle{b}, meta); err == nil {
			t.Fatalf("expected error for bundle with ref 4 at position 0")
		}
	})
}

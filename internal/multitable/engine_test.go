package multitable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"refiner/internal/dataset"
	"refiner/internal/schema"
	"refiner/internal/storage"
)

type fakeLogger struct {
	msgs []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

func (l *fakeLogger) has(prefix string) bool {
	for _, m := range l.msgs {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

// fakeWriter counts plan rows instead of persisting them.
type fakeWriter struct {
	err       error
	dropRows  int64
	calls     int
	gotPlan   storage.LoadPlan
	gotTables []storage.TableSpec
	closed    int
}

func (w *fakeWriter) Dialect() string { return "fake" }

func (w *fakeWriter) Write(ctx context.Context, tables []storage.TableSpec, plan storage.LoadPlan) (storage.Counts, error) {
	w.calls++
	w.gotPlan = plan
	w.gotTables = tables
	if w.err != nil {
		return nil, w.err
	}
	counts := storage.Counts{}
	for _, t := range tables {
		counts[t.Name] = 0
	}
	counts[plan.Parents.Table] = int64(len(plan.Parents.Rows)) - w.dropRows
	for _, rs := range append(append([]storage.RowSet{}, plan.Independent...), plan.Children...) {
		counts[rs.Table] += int64(len(rs.Rows))
	}
	return counts, nil
}

func (w *fakeWriter) Close() error {
	w.closed++
	return nil
}

var runClock = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func entry(id string, extra map[string]any) dataset.Entry {
	e := dataset.Entry{
		"id":               id,
		"instruction_type": "bug_fixing",
		"instruction":      "fix " + id,
		"context":          map[string]any{"language": "python"},
	}
	for k, v := range extra {
		e[k] = v
	}
	return e
}

func newEngine(w storage.Writer, l Logger) *Engine {
	return &Engine{
		Writer:   w,
		Logger:   l,
		Now:      func() time.Time { return runClock },
		NewRunID: func() string { return "run-1" },
	}
}

func TestEngine_Run_Success(t *testing.T) {
	t.Parallel()

	doc := dataset.Document{
		Entries: []dataset.Entry{
			entry("a", map[string]any{"linting_errors": []any{
				map[string]any{"message": "m1", "severity": "warning"},
				map[string]any{"message": "m2"},
			}}),
			entry("b", map[string]any{"user_feedback": map[string]any{"rating": json.Number("9")}}),
			entry("c", map[string]any{"language": nil, "context": map[string]any{}}),
		},
		Metadata:    map[string]any{"version": "2.0.0", "sample_count": json.Number("3")},
		HasMetadata: true,
	}

	w := &fakeWriter{}
	l := &fakeLogger{}
	res, err := newEngine(w, l).Run(context.Background(), doc)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID != "run-1" {
		t.Fatalf("RunID=%q", res.RunID)
	}
	if res.Counts[schema.TableInstructions] != 3 || res.Counts[schema.TableLintingErrors] != 2 || res.Counts[schema.TableMetadata] != 1 {
		t.Fatalf("counts=%v", res.Counts)
	}
	if len(w.gotTables) != len(schema.Tables()) {
		t.Fatalf("engine must default to the six tables, got %d", len(w.gotTables))
	}
	for _, stage := range []string{"stage=normalize ok", "stage=map ok", "stage=persist ok"} {
		if !l.has(stage) {
			t.Fatalf("missing log %q in %v", stage, l.msgs)
		}
	}

	kinds := map[dataset.AnomalyKind]bool{}
	for _, a := range res.Anomalies {
		kinds[a.Kind] = true
	}
	if !kinds[dataset.AnomalyUnknownLanguage] || !kinds[dataset.AnomalyRatingOutOfRange] {
		t.Fatalf("expected unknown_language and rating_out_of_range anomalies, got %+v", res.Anomalies)
	}
	if kinds[dataset.AnomalySampleCountMismatch] {
		t.Fatalf("declared sample_count matches; no mismatch expected")
	}
}

func TestEngine_Run_FailFast(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		doc       dataset.Document
		wantIndex int
		wantID    string
		check     func(error) bool
	}{
		{
			name:      "missing instruction",
			doc:       dataset.Document{Entries: []dataset.Entry{entry("a", nil), {"id": "b", "instruction_type": "bug_fixing"}}},
			wantIndex: 1,
			wantID:    "b",
			check: func(err error) bool {
				var e *dataset.MissingFieldError
				return errors.As(err, &e) && e.Field == "instruction"
			},
		},
		{
			name:      "malformed timestamp",
			doc:       dataset.Document{Entries: []dataset.Entry{entry("a", map[string]any{"timestamp": "15/01/2024"})}},
			wantIndex: 0,
			wantID:    "a",
			check: func(err error) bool {
				var e *dataset.MalformedTimestampError
				return errors.As(err, &e)
			},
		},
		{
			name:      "duplicate id",
			doc:       dataset.Document{Entries: []dataset.Entry{entry("a", nil), entry("b", nil), entry("a", nil)}},
			wantIndex: 2,
			wantID:    "a",
			check: func(err error) bool {
				var e *dataset.DuplicateIDError
				return errors.As(err, &e) && e.First == 0 && e.Second == 2
			},
		},
		{
			name: "malformed metadata created_at",
			doc: dataset.Document{
				Entries:     []dataset.Entry{entry("a", nil)},
				Metadata:    map[string]any{"created_at": "soon"},
				HasMetadata: true,
			},
			wantIndex: -1,
			check: func(err error) bool {
				var e *dataset.MalformedTimestampError
				return errors.As(err, &e) && e.Index == -1
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := &fakeWriter{}
			_, err := newEngine(w, nil).Run(context.Background(), tt.doc)

			var se *StageError
			if !errors.As(err, &se) || se.Stage != StageNormalize {
				t.Fatalf("expected normalize StageError, got %v", err)
			}
			if se.Index != tt.wantIndex || se.InstructionID != tt.wantID {
				t.Fatalf("stage error located at %d/%q, want %d/%q", se.Index, se.InstructionID, tt.wantIndex, tt.wantID)
			}
			if !tt.check(err) {
				t.Fatalf("unexpected cause: %v", err)
			}
			if w.calls != 0 {
				t.Fatalf("writer must not be called after a normalize failure")
			}
		})
	}
}

func TestEngine_Run_PersistFailure(t *testing.T) {
	t.Parallel()

	cause := &storage.PersistenceError{Op: "insert", Table: schema.TableLintingErrors, Err: errors.New("disk full")}
	_, err := newEngine(&fakeWriter{err: cause}, nil).Run(context.Background(), dataset.Document{Entries: []dataset.Entry{entry("a", nil)}})

	var se *StageError
	var pe *storage.PersistenceError
	if !errors.As(err, &se) || se.Stage != StagePersist || !errors.As(err, &pe) {
		t.Fatalf("expected persist StageError wrapping PersistenceError, got %v", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestEngine_Run_SampleCountInvariant(t *testing.T) {
	t.Parallel()

	_, err := newEngine(&fakeWriter{dropRows: 1}, nil).Run(context.Background(), dataset.Document{Entries: []dataset.Entry{entry("a", nil), entry("b", nil)}})
	var sme *storage.SchemaMismatchError
	if !errors.As(err, &sme) {
		t.Fatalf("expected SchemaMismatchError when instruction rows go missing, got %v", err)
	}
}

func TestEngine_Run_MapStageMismatch(t *testing.T) {
	t.Parallel()

	e := newEngine(&fakeWriter{}, nil)
	e.Tables = schema.ChildTables()
	_, err := e.Run(context.Background(), dataset.Document{Entries: []dataset.Entry{entry("a", nil)}})
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageMap {
		t.Fatalf("expected map StageError, got %v", err)
	}
}

func TestEngine_Run_EmptyDataset(t *testing.T) {
	t.Parallel()

	w := &fakeWriter{}
	res, err := newEngine(w, nil).Run(context.Background(), dataset.Document{Entries: []dataset.Entry{}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Counts.Total() != 1 || res.Counts[schema.TableMetadata] != 1 {
		t.Fatalf("empty dataset should write only the metadata row: %v", res.Counts)
	}
	if got := w.gotPlan.Independent[0].Rows[0]; len(got) == 0 {
		t.Fatalf("metadata row missing")
	}
}

func TestEngine_Run_Canceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine(&fakeWriter{}, nil).Run(ctx, dataset.Document{Entries: []dataset.Entry{entry("a", nil)}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
}

func TestEngine_RequiresWriter(t *testing.T) {
	t.Parallel()

	if _, err := (&Engine{}).Run(context.Background(), dataset.Document{}); err == nil {
		t.Fatalf("expected error without writer")
	}
}

func TestStageError_Message(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  *StageError
		want string
	}{
		{&StageError{Stage: StageNormalize, Index: 4, InstructionID: "x", Err: errors.New("bad")}, `normalize: entry 4 (id "x"): bad`},
		{&StageError{Stage: StageNormalize, Index: 4, Err: errors.New("bad")}, `normalize: entry 4: bad`},
		{&StageError{Stage: StagePersist, Index: -1, Err: errors.New("bad")}, `persist: bad`},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Fatalf("got %q want %q", got, tt.want)
		}
	}
}

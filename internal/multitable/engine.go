// Package multitable runs the refiner pipeline: normalize every entry, map it to rows
// across the six tables, and write the whole dataset in one transaction.
package multitable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"refiner/internal/dataset"
	"refiner/internal/mapping"
	"refiner/internal/metrics"
	"refiner/internal/schema"
	"refiner/internal/storage"
)

// Logger is the minimal logging interface used by the engine and runner.
// *log.Logger (and zap.NewStdLog) satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Stage names the pipeline step a StageError came from.
type Stage string

const (
	StageNormalize Stage = "normalize"
	StageMap       Stage = "map"
	StagePersist   Stage = "persist"
)

// StageError is the single terminal error of a run. Index is the entry position
// (-1 for dataset_metadata or dataset-wide failures).
type StageError struct {
	Stage         Stage
	Index         int
	InstructionID string
	Err           error
}

func (e *StageError) Error() string {
	switch {
	case e.InstructionID != "":
		return fmt.Sprintf("%s: entry %d (id %q): %v", e.Stage, e.Index, e.InstructionID, e.Err)
	case e.Index >= 0:
		return fmt.Sprintf("%s: entry %d: %v", e.Stage, e.Index, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
}

func (e *StageError) Unwrap() error { return e.Err }

// Result summarizes a committed run.
type Result struct {
	RunID     string
	Counts    storage.Counts
	Anomalies []dataset.Anomaly
}

// Engine turns a decoded document into a committed store.
type Engine struct {
	Writer storage.Writer

	// Tables defaults to schema.Tables().
	Tables []storage.TableSpec
	Logger Logger

	// Now and NewRunID are seams for deterministic tests.
	Now      func() time.Time
	NewRunID func() string
}

// Run normalizes, maps and persists doc. Any fatal problem aborts the run before
// anything is written (normalize/map) or rolls the write back (persist), and is
// returned as *StageError.
func (e *Engine) Run(ctx context.Context, doc dataset.Document) (Result, error) {
	if e.Writer == nil {
		return Result{}, fmt.Errorf("engine: Writer is required")
	}
	logf := e.logger()
	now := e.now()
	res := Result{RunID: e.runID()}

	tables := e.Tables
	if len(tables) == 0 {
		tables = schema.Tables()
	}

	// Normalize.
	start := time.Now()
	records, meta, anomalies, err := normalizeAll(ctx, doc)
	if err != nil {
		metrics.RecordStep(string(StageNormalize), "error", time.Since(start))
		return res, err
	}
	res.Anomalies = append(res.Anomalies, anomalies...)
	metrics.RecordStep(string(StageNormalize), "ok", time.Since(start))
	logf("stage=normalize ok entries=%d anomalies=%d duration=%s", len(records), len(anomalies), durMS(start))

	// Map.
	start = time.Now()
	bundles := make([]mapping.Bundle, 0, len(records))
	for i, rec := range records {
		b, an := mapping.Map(rec, storage.ParentRef(i), now)
		bundles = append(bundles, b)
		res.Anomalies = append(res.Anomalies, an...)
	}
	metaRow, an := mapping.MapMetadata(meta, len(records), now)
	res.Anomalies = append(res.Anomalies, an...)

	plan, err := mapping.BuildPlan(tables, bundles, metaRow)
	if err != nil {
		metrics.RecordStep(string(StageMap), "error", time.Since(start))
		return res, &StageError{Stage: StageMap, Index: -1, Err: err}
	}
	metrics.RecordStep(string(StageMap), "ok", time.Since(start))
	logf("stage=map ok rows=%d duration=%s", plan.RowCount(), durMS(start))

	// Persist.
	start = time.Now()
	counts, err := e.Writer.Write(ctx, tables, plan)
	if err == nil && counts[schema.TableInstructions] != int64(len(records)) {
		err = &storage.SchemaMismatchError{
			Table:  schema.TableInstructions,
			Reason: fmt.Sprintf("wrote %d rows for %d entries", counts[schema.TableInstructions], len(records)),
		}
	}
	if err != nil {
		metrics.RecordStep(string(StagePersist), "error", time.Since(start))
		return res, &StageError{Stage: StagePersist, Index: -1, Err: err}
	}
	res.Counts = counts
	metrics.RecordStep(string(StagePersist), "ok", time.Since(start))
	logf("stage=persist ok dialect=%s rows=%d duration=%s", e.Writer.Dialect(), counts.Total(), durMS(start))

	for _, t := range counts.Tables() {
		metrics.RecordRows(t, counts[t])
	}
	for _, a := range res.Anomalies {
		metrics.RecordAnomaly(string(a.Kind))
	}
	return res, nil
}

// normalizeAll is fail-fast: the first fatal entry aborts the run.
func normalizeAll(ctx context.Context, doc dataset.Document) ([]dataset.Record, dataset.Metadata, []dataset.Anomaly, error) {
	var anomalies []dataset.Anomaly
	records := make([]dataset.Record, 0, len(doc.Entries))
	seen := make(map[string]int, len(doc.Entries))

	for i, entry := range doc.Entries {
		if err := ctx.Err(); err != nil {
			return nil, dataset.Metadata{}, nil, &StageError{Stage: StageNormalize, Index: i, Err: err}
		}
		rec, an, err := dataset.Normalize(entry, i)
		if err != nil {
			return nil, dataset.Metadata{}, nil, &StageError{Stage: StageNormalize, Index: i, InstructionID: entryID(err), Err: err}
		}
		if first, dup := seen[rec.InstructionID]; dup {
			return nil, dataset.Metadata{}, nil, &StageError{
				Stage:         StageNormalize,
				Index:         i,
				InstructionID: rec.InstructionID,
				Err:           &dataset.DuplicateIDError{ID: rec.InstructionID, First: first, Second: i},
			}
		}
		seen[rec.InstructionID] = i
		records = append(records, rec)
		anomalies = append(anomalies, an...)
	}

	var raw map[string]any
	if doc.HasMetadata {
		raw = doc.Metadata
	}
	meta, an, err := dataset.NormalizeMetadata(raw)
	if err != nil {
		return nil, dataset.Metadata{}, nil, &StageError{Stage: StageNormalize, Index: -1, Err: err}
	}
	anomalies = append(anomalies, an...)
	return records, meta, anomalies, nil
}

// entryID pulls the instruction id out of a normalization error, when it got that far.
func entryID(err error) string {
	var missing *dataset.MissingFieldError
	var invalid *dataset.InvalidFieldError
	var ts *dataset.MalformedTimestampError
	switch {
	case errors.As(err, &missing):
		return missing.ID
	case errors.As(err, &invalid):
		return invalid.ID
	case errors.As(err, &ts):
		return ts.ID
	}
	return ""
}

func (e *Engine) logger() func(format string, v ...any) {
	if e.Logger == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return e.Logger.Printf
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) runID() string {
	if e.NewRunID != nil {
		return e.NewRunID()
	}
	return uuid.NewString()
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// Package mapping expands normalized records into per-table rows.
//
// Rows are produced as column→value maps and only turned into positional storage rows
// by BuildPlan, which orders them by the shared table definitions. Child rows carry a
// storage.ParentRef in their instruction_id column instead of a real id.
package mapping

import (
	"fmt"
	"time"

	"refiner/internal/dataset"
	"refiner/internal/schema"
	"refiner/internal/storage"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Values is one row keyed by column name. A nil value is NULL.
type Values map[string]any

// Bundle holds every row produced from one entry.
type Bundle struct {
	Ref           storage.ParentRef
	Instruction   Values
	Context       Values // nil when the entry has no context row
	Dependencies  []Values
	LintingErrors []Values
	Feedback      Values // nil when the entry has no feedback row
}

// RowCount is the number of rows b contributes to the store.
func (b Bundle) RowCount() int {
	n := 1 + len(b.Dependencies) + len(b.LintingErrors)
	if b.Context != nil {
		n++
	}
	if b.Feedback != nil {
		n++
	}
	return n
}

// Map builds the row bundle for rec. ref is the logical position of rec's instruction row
// and now is the run clock used for created_at.
func Map(rec dataset.Record, ref storage.ParentRef, now time.Time) (Bundle, []dataset.Anomaly) {
	var anomalies []dataset.Anomaly
	now = now.UTC()

	b := Bundle{
		Ref: ref,
		Instruction: Values{
			"instruction_id":   rec.InstructionID,
			"instruction_type": rec.InstructionType,
			"instruction":      rec.Instruction,
			"input_code":       rec.InputCode,
			"output_code":      rec.OutputCode,
			"language":         rec.Language,
			"user_prompt":      rec.UserPrompt.OrNil(),
			"timestamp":        rec.Timestamp.OrNil(),
			"model_used":       rec.ModelUsed,
			"created_at":       now,
		},
	}

	if c, ok := rec.Context.Get(); ok && !c.Empty() {
		b.Context = Values{
			schema.ParentKeyColumn: ref,
			"user_prompt":          c.UserPrompt.OrNil(),
			"error_message":        c.ErrorMessage.OrNil(),
			"terminal_output":      c.TerminalOutput.OrNil(),
			"successful_execution": c.SuccessfulExecution.OrNil(),
			"execution_time":       c.ExecutionTime.OrNil(),
			"execution_date":       c.ExecutionDate.OrNil(),
			"file_context":         c.FileContext.OrNil(),
			"file_path":            c.FilePath.OrNil(),
			"file_content":         c.FileContent.OrNil(),
			"framework":            c.Framework.OrNil(),
		}
	}

	for _, d := range rec.Dependencies {
		b.Dependencies = append(b.Dependencies, Values{
			schema.ParentKeyColumn: ref,
			"name":                 d.Name,
			"version":              d.Version.OrNil(),
		})
	}

	for _, le := range rec.LintingErrors {
		b.LintingErrors = append(b.LintingErrors, Values{
			schema.ParentKeyColumn: ref,
			"line":                 le.Line.OrNil(),
			"column":               le.Column.OrNil(),
			"message":              le.Message,
			"severity":             le.Severity,
			"rule":                 le.Rule.OrNil(),
		})
	}

	if fb, ok := rec.Feedback.Get(); ok {
		if r, ok := fb.Rating.Get(); ok && (r < MinRating || r > MaxRating) {
			anomalies = append(anomalies, dataset.Anomaly{
				Index:         rec.Index,
				InstructionID: rec.InstructionID,
				Field:         "user_feedback.rating",
				Kind:          dataset.AnomalyRatingOutOfRange,
				Message:       fmt.Sprintf("rating %d is outside %d-%d; stored as-is", r, MinRating, MaxRating),
			})
		}
		b.Feedback = Values{
			schema.ParentKeyColumn: ref,
			"rating":               fb.Rating.OrNil(),
			"comment":              fb.Comment.OrNil(),
			"was_helpful":          fb.WasHelpful.OrNil(),
			"helped_solve_problem": fb.HelpedSolveProblem.OrNil(),
		}
	}

	return b, anomalies
}

// MapMetadata builds the dataset_metadata row. sample_count is always sampleCount (the
// number of instruction rows written); a different declared count is reported.
func MapMetadata(meta dataset.Metadata, sampleCount int, now time.Time) (Values, []dataset.Anomaly) {
	var anomalies []dataset.Anomaly
	now = now.UTC()

	if declared, ok := meta.DeclaredSampleCount.Get(); ok && declared != int64(sampleCount) {
		anomalies = append(anomalies, dataset.Anomaly{
			Index:   -1,
			Field:   "dataset_metadata.sample_count",
			Kind:    dataset.AnomalySampleCountMismatch,
			Message: fmt.Sprintf("declared %d samples, wrote %d", declared, sampleCount),
		})
	}

	return Values{
		"version":      meta.Version,
		"created_at":   meta.CreatedAt.OrElse(now),
		"sample_count": int64(sampleCount),
		"license":      meta.License,
		"source":       meta.Source,
		"updated_at":   now,
	}, anomalies
}

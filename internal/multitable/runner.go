package multitable

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"refiner/internal/config"
	"refiner/internal/dataset"
	jsonparser "refiner/internal/parser/json"
	"refiner/internal/publish"
	"refiner/internal/schema"
	"refiner/internal/storage"
)

// Output is the run-metadata artifact written to output.json.
type Output struct {
	RunID         string            `json:"run_id"`
	InputFile     string            `json:"input_file"`
	RefinementURL string            `json:"refinement_url,omitempty"`
	Schema        schema.Document   `json:"schema"`
	Counts        storage.Counts    `json:"counts"`
	TotalRows     int64             `json:"total_rows"`
	Anomalies     []dataset.Anomaly `json:"anomalies"`
	Publish       *publish.Receipt  `json:"publish,omitempty"`
	PublishError  string            `json:"publish_error,omitempty"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// pathWriter is implemented by file-backed writers (sqlite).
type pathWriter interface {
	Path() string
}

// Runner wires the engine to its collaborators: input discovery and decoding, the
// storage backend, artifact files and the publish sink.
type Runner struct {
	Config config.Config

	// OpenWriter defaults to storage.Open.
	OpenWriter func(ctx context.Context, cfg storage.Config) (storage.Writer, error)
	// DDL defaults to storage.DDL.
	DDL func(kind string) (storage.DDLBuilder, error)
	// Sink defaults to publish.Nop.
	Sink   publish.Sink
	Logger Logger

	Now      func() time.Time
	NewRunID func() string
}

// NewDefaultRunner returns a Runner using the registered storage backends.
func NewDefaultRunner(cfg config.Config, sink publish.Sink, logger Logger) *Runner {
	return &Runner{
		Config:     cfg,
		OpenWriter: storage.Open,
		DDL:        storage.DDL,
		Sink:       sink,
		Logger:     logger,
	}
}

// BuildSchema renders the schema document for the configured backend.
func (r *Runner) BuildSchema() (schema.Document, error) {
	sc := r.Config.StorageConfig()
	ddlFn := r.DDL
	if ddlFn == nil {
		ddlFn = storage.DDL
	}
	ddl, err := ddlFn(sc.Kind)
	if err != nil {
		return schema.Document{}, err
	}
	dialect := strings.TrimSpace(r.Config.Schema.Dialect)
	if dialect == "" {
		dialect = sc.Kind
	}
	return schema.Build(schema.DocumentOptions{
		Name:        r.Config.Schema.Name,
		Version:     r.Config.Schema.Version,
		Description: r.Config.Schema.Description,
		Dialect:     dialect,
	}, schema.Tables(), ddl)
}

// WriteSchema writes schema.json without touching input or storage.
func (r *Runner) WriteSchema() (string, error) {
	doc, err := r.BuildSchema()
	if err != nil {
		return "", err
	}
	path := r.Config.SchemaPath()
	if err := doc.WriteFile(path); err != nil {
		return "", err
	}
	return path, nil
}

// Run processes the first JSON file in the input directory.
//
// On success the store is committed, schema.json and output.json are written, and the
// artifacts are published. A publish failure is logged and recorded in output.json; it
// does not fail the run. On error nothing but the backend's own rollback has happened
// and no artifact files are written.
func (r *Runner) Run(ctx context.Context) (Output, error) {
	logf := (&Engine{Logger: r.Logger}).logger()

	input, err := jsonparser.FirstJSONFile(r.Config.InputDir)
	if err != nil {
		return Output{}, err
	}
	logf("stage=input ok file=%s", input)

	start := time.Now()
	doc, err := jsonparser.DecodeFile(ctx, input)
	if err != nil {
		return Output{}, err
	}
	logf("stage=decode ok entries=%d duration=%s", len(doc.Entries), durMS(start))

	schemaDoc, err := r.BuildSchema()
	if err != nil {
		return Output{}, fmt.Errorf("schema: %w", err)
	}

	if err := os.MkdirAll(r.Config.OutputDir, 0o755); err != nil {
		return Output{}, fmt.Errorf("output dir: %w", err)
	}

	open := r.OpenWriter
	if open == nil {
		open = storage.Open
	}
	w, err := open(ctx, r.Config.StorageConfig())
	if err != nil {
		return Output{}, &StageError{Stage: StagePersist, Index: -1, Err: err}
	}
	defer w.Close()

	engine := &Engine{Writer: w, Logger: r.Logger, Now: r.Now, NewRunID: r.NewRunID}
	res, err := engine.Run(ctx, doc)
	if err != nil {
		return Output{}, err
	}

	out := Output{
		RunID:     res.RunID,
		InputFile: input,
		Schema:    schemaDoc,
		Counts:    res.Counts,
		TotalRows: res.Counts.Total(),
		Anomalies: res.Anomalies,
	}
	if out.Anomalies == nil {
		out.Anomalies = []dataset.Anomaly{}
	}

	if err := schemaDoc.WriteFile(r.Config.SchemaPath()); err != nil {
		return out, fmt.Errorf("write schema: %w", err)
	}

	r.publish(ctx, w, schemaDoc, &out)

	out.CompletedAt = engine.now()
	if err := writeJSON(r.Config.OutputPath(), out); err != nil {
		return out, fmt.Errorf("write output: %w", err)
	}
	logf("stage=done ok run_id=%s rows=%d anomalies=%d", out.RunID, out.TotalRows, len(out.Anomalies))
	return out, nil
}

// publish runs after commit. Failures only annotate out.
func (r *Runner) publish(ctx context.Context, w storage.Writer, doc schema.Document, out *Output) {
	logf := (&Engine{Logger: r.Logger}).logger()
	sink := r.Sink
	if sink == nil {
		sink = publish.Nop{}
	}
	if _, ok := sink.(publish.Nop); ok {
		logf("stage=publish skipped reason=no_credentials")
		return
	}

	pw, ok := w.(pathWriter)
	if !ok {
		out.PublishError = fmt.Sprintf("publish: %s store is not a file", w.Dialect())
		logf("stage=publish error err=%q", out.PublishError)
		return
	}
	body, err := doc.Marshal()
	if err != nil {
		out.PublishError = err.Error()
		logf("stage=publish error err=%q", out.PublishError)
		return
	}

	start := time.Now()
	receipt, err := sink.Publish(ctx, publish.Artifacts{SchemaJSON: body, DatabasePath: pw.Path()})
	if err != nil {
		out.PublishError = err.Error()
		logf("stage=publish error sink=%s err=%q duration=%s", sink.Name(), out.PublishError, durMS(start))
		return
	}
	out.Publish = &receipt
	out.RefinementURL = receipt.URL
	logf("stage=publish ok sink=%s url=%s duration=%s", sink.Name(), receipt.URL, durMS(start))
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

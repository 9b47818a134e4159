// Package publish uploads run artifacts after the store has been committed.
package publish

import (
	"context"
)

// Artifacts are the files a run produced.
type Artifacts struct {
	// SchemaJSON is the encoded schema document (schema.json).
	SchemaJSON []byte
	// DatabasePath is the committed store file (db.libsql).
	DatabasePath string
}

// Receipt describes where artifacts ended up.
type Receipt struct {
	SchemaCID   string `json:"schema_cid,omitempty"`
	DatabaseCID string `json:"database_cid,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Sink publishes artifacts. Publishing never changes the committed store; a failed
// publish is reported by the caller and the run still succeeds.
type Sink interface {
	Name() string
	Publish(ctx context.Context, a Artifacts) (Receipt, error)
}

// Nop is the sink used when no publishing credentials are configured.
type Nop struct{}

func (Nop) Name() string { return "none" }

func (Nop) Publish(context.Context, Artifacts) (Receipt, error) { return Receipt{}, nil }

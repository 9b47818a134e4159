package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config is the minimal configuration needed to open a Writer.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend; validation is backend-specific
//     (a file path for sqlite, a connection URL for postgres/mssql).
type Config struct {
	Kind string
	DSN  string
}

// Writer materializes a LoadPlan into a relational store.
//
// IMPORTANT: Write has recreate semantics. Any previous content of the target is
// discarded, and either the whole plan is committed or nothing is. Each backend
// implements this in its own idiomatic way (sqlite swaps a temp file into place,
// postgres and mssql drop and create inside one transaction).
type Writer interface {
	// Dialect is the backend kind the writer was registered under.
	Dialect() string

	// Write creates every table in tables (in order) and inserts plan inside a single
	// transaction. Failures are reported as *PersistenceError or *SchemaMismatchError.
	Write(ctx context.Context, tables []TableSpec, plan LoadPlan) (Counts, error)

	// Close releases backend resources. Call once.
	Close() error
}

// DDLBuilder renders CREATE TABLE for one table in a backend's dialect. The same
// function is used to create storage and to publish the schema description.
type DDLBuilder func(t TableSpec) (string, error)

// Factory opens a Writer for a backend.
type Factory func(ctx context.Context, cfg Config) (Writer, error)

// Backend bundles what a storage kind provides.
type Backend struct {
	Open           Factory
	CreateTableSQL DDLBuilder
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//
// Panics:
//   - If kind is empty, Open or CreateTableSQL is nil, or kind is already registered.
//     Registering twice is a programming error and fails fast.
func Register(kind string, b Backend) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if b.Open == nil || b.CreateTableSQL == nil {
		panic(fmt.Sprintf("storage: Register called with incomplete backend for kind=%q", kind))
	}
	if _, exists := backends[kind]; exists {
		panic(fmt.Sprintf("storage: backend already registered for kind=%q", kind))
	}
	backends[kind] = b
}

func lookup(kind string) (Backend, error) {
	if kind == "" {
		return Backend{}, fmt.Errorf("storage: missing kind")
	}
	mu.RLock()
	b, ok := backends[kind]
	mu.RUnlock()
	if !ok {
		return Backend{}, fmt.Errorf("storage: unsupported kind=%s", kind)
	}
	return b, nil
}

// Open constructs a Writer using the registered backend.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the backend factory returns.
func Open(ctx context.Context, cfg Config) (Writer, error) {
	b, err := lookup(cfg.Kind)
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, cfg)
}

// DDL returns the CREATE TABLE builder for kind without opening a connection.
func DDL(kind string) (DDLBuilder, error) {
	b, err := lookup(kind)
	if err != nil {
		return nil, err
	}
	return b.CreateTableSQL, nil
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(backends))
	for k := range backends {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package storage

import (
	"context"
	"strings"
	"testing"
)

type nopWriter struct{ kind string }

func (w nopWriter) Dialect() string { return w.kind }
func (w nopWriter) Write(ctx context.Context, tables []TableSpec, plan LoadPlan) (Counts, error) {
	return Counts{}, nil
}
func (w nopWriter) Close() error { return nil }

func TestRegister_OpenAndDDL(t *testing.T) {
	Register("test-open", Backend{
		Open: func(ctx context.Context, cfg Config) (Writer, error) {
			return nopWriter{kind: "test-open"}, nil
		},
		CreateTableSQL: func(t TableSpec) (string, error) { return "CREATE TABLE " + t.Name, nil },
	})

	w, err := Open(context.Background(), Config{Kind: "test-open"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if w.Dialect() != "test-open" {
		t.Fatalf("Dialect=%q", w.Dialect())
	}

	ddl, err := DDL("test-open")
	if err != nil {
		t.Fatalf("DDL: %v", err)
	}
	if s, _ := ddl(TableSpec{Name: "x"}); s != "CREATE TABLE x" {
		t.Fatalf("unexpected ddl %q", s)
	}

	found := false
	for _, k := range Kinds() {
		if k == "test-open" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds() missing test-open: %v", Kinds())
	}
}

func TestOpen_RejectsUnknownKinds(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := Open(context.Background(), Config{Kind: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported kind error, got %v", err)
	}
}

func TestRegister_PanicsOnMisuse(t *testing.T) {
	ok := Backend{
		Open:           func(ctx context.Context, cfg Config) (Writer, error) { return nopWriter{}, nil },
		CreateTableSQL: func(t TableSpec) (string, error) { return "", nil },
	}
	Register("test-dup", ok)

	tests := []struct {
		name string
		kind string
		b    Backend
	}{
		{name: "empty_kind", kind: "", b: ok},
		{name: "nil_open", kind: "test-nil", b: Backend{CreateTableSQL: ok.CreateTableSQL}},
		{name: "duplicate", kind: "test-dup", b: ok},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			Register(tt.kind, tt.b)
		})
	}
}

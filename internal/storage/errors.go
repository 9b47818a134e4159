package storage

import "fmt"

// PersistenceError reports a failure while creating or writing the target store.
// The transaction it happened in has been rolled back.
type PersistenceError struct {
	Op    string // "open", "ddl", "verify", "insert", "commit", "replace"
	Table string
	Err   error
}

func (e *PersistenceError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SchemaMismatchError reports that created storage (or a mapped row) disagrees with the
// schema definition. It indicates an internal invariant violation.
type SchemaMismatchError struct {
	Table  string
	Column string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("storage: schema mismatch on %s: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("storage: schema mismatch on %s.%s: %s", e.Table, e.Column, e.Reason)
}

func persistErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Table: table, Err: err}
}

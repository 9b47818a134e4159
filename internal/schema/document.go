package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"refiner/internal/storage"
)

// DocumentOptions carries the descriptive fields of the published schema.
type DocumentOptions struct {
	Name        string
	Version     string
	Description string
	Dialect     string
}

// Document is the machine-readable schema artifact (schema.json). Schema holds the
// exact DDL the writer executes; Tables holds the same information in structured form
// so external query engines can check compatibility without parsing SQL.
type Document struct {
	Name        string     `json:"name"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Dialect     string     `json:"dialect"`
	Schema      string     `json:"schema"`
	Tables      []TableDoc `json:"tables"`
}

type TableDoc struct {
	Name        string          `json:"name"`
	PrimaryKey  string          `json:"primary_key,omitempty"`
	Columns     []ColumnDoc     `json:"columns"`
	ForeignKeys []ForeignKeyDoc `json:"foreign_keys,omitempty"`
	Unique      [][]string      `json:"unique,omitempty"`
}

type ColumnDoc struct {
	Name     string               `json:"name"`
	Type     storage.SemanticType `json:"type"`
	Nullable bool                 `json:"nullable"`
}

type ForeignKeyDoc struct {
	Column           string `json:"column"`
	ReferencesTable  string `json:"references_table"`
	ReferencesColumn string `json:"references_column"`
	OnDelete         string `json:"on_delete,omitempty"`
}

// Build renders tables into a Document using ddl for the Schema text.
//
// Errors:
//   - Returns the first DDL error, or an error if a column has an unknown type.
func Build(opts DocumentOptions, tables []storage.TableSpec, ddl storage.DDLBuilder) (Document, error) {
	if ddl == nil {
		return Document{}, fmt.Errorf("schema: ddl builder is required")
	}

	doc := Document{
		Name:        opts.Name,
		Version:     opts.Version,
		Description: opts.Description,
		Dialect:     opts.Dialect,
		Tables:      make([]TableDoc, 0, len(tables)),
	}

	stmts := make([]string, 0, len(tables))
	for _, t := range tables {
		stmt, err := ddl(t)
		if err != nil {
			return Document{}, fmt.Errorf("schema: %s: %w", t.Name, err)
		}
		stmts = append(stmts, stmt)

		td, err := describe(t)
		if err != nil {
			return Document{}, err
		}
		doc.Tables = append(doc.Tables, td)
	}
	doc.Schema = strings.Join(stmts, "\n\n")
	return doc, nil
}

func describe(t storage.TableSpec) (TableDoc, error) {
	td := TableDoc{Name: t.Name, Columns: make([]ColumnDoc, 0, len(t.Columns)+1)}
	if t.PrimaryKey != nil {
		td.PrimaryKey = t.PrimaryKey.Name
		td.Columns = append(td.Columns, ColumnDoc{Name: t.PrimaryKey.Name, Type: storage.TypeInteger})
	}
	for _, c := range t.Columns {
		if !c.Type.Valid() {
			return TableDoc{}, fmt.Errorf("schema: %s.%s has unknown type %q", t.Name, c.Name, c.Type)
		}
		td.Columns = append(td.Columns, ColumnDoc{Name: c.Name, Type: c.Type, Nullable: c.Nullable})
		if ref := c.References; ref != nil {
			td.ForeignKeys = append(td.ForeignKeys, ForeignKeyDoc{
				Column:           c.Name,
				ReferencesTable:  ref.Table,
				ReferencesColumn: ref.Column,
				OnDelete:         ref.OnDelete,
			})
		}
	}
	for _, con := range t.Constraints {
		if strings.EqualFold(con.Kind, "unique") {
			td.Unique = append(td.Unique, append([]string(nil), con.Columns...))
		}
	}
	return td, nil
}

// Marshal returns the indented JSON encoding of d.
func (d Document) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// WriteFile writes d as indented JSON to path, creating parent directories.
func (d Document) WriteFile(path string) error {
	b, err := d.Marshal()
	if err != nil {
		return fmt.Errorf("schema: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

// Table returns the table description named name.
func (d Document) Table(name string) (TableDoc, bool) {
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableDoc{}, false
}

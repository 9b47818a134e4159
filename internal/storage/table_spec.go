// The TableSpec types live here so the schema package, the mapper and every backend can
// import them without circular deps.
package storage

import "strings"

// SemanticType is the storage-engine-agnostic column type. Backends translate it to
// their own SQL types when building DDL.
type SemanticType string

const (
	TypeText      SemanticType = "text"
	TypeInteger   SemanticType = "integer"
	TypeReal      SemanticType = "real"
	TypeBoolean   SemanticType = "boolean"
	TypeTimestamp SemanticType = "timestamp"
)

// Valid reports whether t is one of the known semantic types.
func (t SemanticType) Valid() bool {
	switch t {
	case TypeText, TypeInteger, TypeReal, TypeBoolean, TypeTimestamp:
		return true
	}
	return false
}

type TableSpec struct {
	Name        string           `json:"name"`
	PrimaryKey  *PrimaryKeySpec  `json:"primary_key,omitempty"`
	Columns     []ColumnSpec     `json:"columns"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

type PrimaryKeySpec struct {
	Name string `json:"name"`
	Type string `json:"type"` // "serial" is the only generated kind the backends know
}

type ColumnSpec struct {
	Name       string          `json:"name"`
	Type       SemanticType    `json:"type"`
	Nullable   bool            `json:"nullable"`
	References *ForeignKeySpec `json:"references,omitempty"`
}

type ForeignKeySpec struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	OnDelete string `json:"on_delete,omitempty"` // "cascade" or empty
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// ColumnNames returns the insertable (non primary key) columns in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		out = append(out, c.Name)
	}
	return out
}

// AllColumnNames returns the primary key column (if any) followed by ColumnNames.
func (t TableSpec) AllColumnNames() []string {
	out := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		out = append(out, t.PrimaryKey.Name)
	}
	return append(out, t.ColumnNames()...)
}

// Column looks up a column by name (case-insensitive).
func (t TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// ParentTable returns the table referenced by the first foreign key column, or "".
func (t TableSpec) ParentTable() string {
	for _, c := range t.Columns {
		if c.References != nil {
			return c.References.Table
		}
	}
	return ""
}

// UniqueColumns reports the set of columns that take part in a UNIQUE constraint.
// Backends use it where unique keys need a bounded column type.
func (t TableSpec) UniqueColumns() map[string]bool {
	out := map[string]bool{}
	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			continue
		}
		for _, c := range con.Columns {
			out[strings.ToLower(c)] = true
		}
	}
	return out
}

// FindTable returns the spec named name from tables.
func FindTable(tables []TableSpec, name string) (TableSpec, bool) {
	for _, t := range tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSpec{}, false
}

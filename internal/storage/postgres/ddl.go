package postgres

import (
	"fmt"
	"strings"

	"refiner/internal/storage"
)

// pgIdent quotes an identifier. Reserved names such as "column" and "timestamp" are
// column names in the refined schema, so every identifier is quoted.
func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// pgTableIdent quotes a table name, keeping an optional "schema." prefix separate.
func pgTableIdent(name string) string {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgIdent(schema) + "." + pgIdent(table)
	}
	return pgIdent(name)
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "refined.user_feedback" => ("refined", "user_feedback")
//   - "user_feedback"         => ("", "user_feedback")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

func pgType(t storage.SemanticType) (string, error) {
	switch t {
	case storage.TypeText:
		return "TEXT", nil
	case storage.TypeInteger:
		return "BIGINT", nil
	case storage.TypeReal:
		return "DOUBLE PRECISION", nil
	case storage.TypeBoolean:
		return "BOOLEAN", nil
	case storage.TypeTimestamp:
		return "TIMESTAMPTZ", nil
	default:
		return "", fmt.Errorf("postgres: unsupported column type %q", t)
	}
}

// buildColumnDef renders a single column definition. Foreign keys are expressed
// inline so each CREATE TABLE is self-contained.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}
	typ, err := pgType(c.Type)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if ref := c.References; ref != nil {
		b.WriteString(" REFERENCES ")
		b.WriteString(pgTableIdent(ref.Table))
		b.WriteString(" (")
		b.WriteString(pgIdent(ref.Column))
		b.WriteString(")")
		if strings.EqualFold(ref.OnDelete, "cascade") {
			b.WriteString(" ON DELETE CASCADE")
		}
	}
	return b.String(), nil
}

// buildConstraints generates table-level constraints. Only UNIQUE is supported.
func buildConstraints(t storage.TableSpec) ([]string, error) {
	out := make([]string, 0, len(t.Constraints))
	for _, c := range t.Constraints {
		switch strings.ToLower(strings.TrimSpace(c.Kind)) {
		case "unique":
			if len(c.Columns) == 0 {
				return nil, fmt.Errorf("table %s: unique constraint requires columns", t.Name)
			}
			cols := make([]string, 0, len(c.Columns))
			for _, col := range c.Columns {
				cols = append(cols, pgIdent(strings.TrimSpace(col)))
			}
			out = append(out, "UNIQUE ("+strings.Join(cols, ", ")+")")
		default:
			return nil, fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
	}
	return out, nil
}

// buildCreateTableSQL renders CREATE TABLE for t. The writer drops every table first,
// so no IF NOT EXISTS.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("postgres: table name is empty")
	}

	defs := make([]string, 0, len(t.Columns)+len(t.Constraints)+1)
	if t.PrimaryKey != nil {
		switch strings.ToLower(strings.TrimSpace(t.PrimaryKey.Type)) {
		case "serial", "bigserial", "identity":
			defs = append(defs, fmt.Sprintf("%s BIGSERIAL PRIMARY KEY", pgIdent(t.PrimaryKey.Name)))
		default:
			return "", fmt.Errorf("postgres: %s unsupported primary key type %q", t.Name, t.PrimaryKey.Type)
		}
	}
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("postgres: table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}
	constraints, err := buildConstraints(t)
	if err != nil {
		return "", fmt.Errorf("postgres: %w", err)
	}
	defs = append(defs, constraints...)

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", pgTableIdent(t.Name), strings.Join(defs, ",\n  ")), nil
}

func buildDropTableSQL(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", pgTableIdent(table))
}

// buildInsertSQL constructs a single INSERT statement and its args.
//
// It is pure and deterministic so placeholder numbering can be tested without a
// database. returning, when set, appends RETURNING <returning>.
func buildInsertSQL(table string, columns []string, rows []storage.Row, returning string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	if returning != "" {
		b.WriteString(" RETURNING ")
		b.WriteString(pgIdent(returning))
	}
	return b.String(), args
}

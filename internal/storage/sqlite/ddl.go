package sqlite

import (
	"fmt"
	"strings"

	"refiner/internal/storage"
)

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		out = append(out, sqlIdent(c))
	}
	return strings.Join(out, ", ")
}

// sqliteType maps a semantic type to the declared type SQLite tools expect.
// DATETIME and BOOLEAN only set column affinity; values are RFC3339 text and 0/1.
func sqliteType(t storage.SemanticType) (string, error) {
	switch t {
	case storage.TypeText:
		return "TEXT", nil
	case storage.TypeInteger:
		return "INTEGER", nil
	case storage.TypeReal:
		return "REAL", nil
	case storage.TypeBoolean:
		return "BOOLEAN", nil
	case storage.TypeTimestamp:
		return "DATETIME", nil
	default:
		return "", fmt.Errorf("sqlite: unsupported column type %q", t)
	}
}

// buildCreateTableSQL renders CREATE TABLE for t.
//
// The statement is plain CREATE TABLE (no IF NOT EXISTS): the writer always builds into
// a fresh file, so an existing table would indicate a bug.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}

	var parts []string

	if t.PrimaryKey != nil {
		pkType := strings.TrimSpace(strings.ToLower(t.PrimaryKey.Type))

		// "INTEGER PRIMARY KEY" is special in sqlite: it becomes the rowid and auto-generates values.
		switch pkType {
		case "serial", "bigserial", "identity":
			parts = append(parts, fmt.Sprintf(`%s INTEGER PRIMARY KEY AUTOINCREMENT`, sqlIdent(t.PrimaryKey.Name)))
		default:
			return "", fmt.Errorf("sqlite: %s unsupported primary key type %q", t.Name, t.PrimaryKey.Type)
		}
	}

	for _, c := range t.Columns {
		typ, err := sqliteType(c.Type)
		if err != nil {
			return "", fmt.Errorf("%s.%s: %w", t.Name, c.Name, err)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), typ)
		if !c.Nullable {
			col += " NOT NULL"
		}
		if ref := c.References; ref != nil {
			col += fmt.Sprintf(" REFERENCES %s(%s)", sqlIdent(ref.Table), sqlIdent(ref.Column))
			if strings.EqualFold(ref.OnDelete, "cascade") {
				col += " ON DELETE CASCADE"
			}
		}
		parts = append(parts, col)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("%s unique constraint has no columns", t.Name)
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", sqlIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

package mssql

import (
	"fmt"
	"strings"

	"refiner/internal/storage"
)

// uniqueTextType bounds text columns that take part in a UNIQUE constraint; SQL Server
// cannot index NVARCHAR(MAX). 450 characters is the widest NVARCHAR key that fits the
// 900-byte index key limit.
const uniqueTextType = "NVARCHAR(450)"

func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.user_feedback" -> [dbo].[user_feedback]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

func splitQualifiedName(name string) (schema, table string) {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return strings.TrimSpace(name[:i]), strings.TrimSpace(name[i+1:])
	}
	return "", strings.TrimSpace(name)
}

func mssqlType(c storage.ColumnSpec, unique bool) (string, error) {
	switch c.Type {
	case storage.TypeText:
		if unique {
			return uniqueTextType, nil
		}
		return "NVARCHAR(MAX)", nil
	case storage.TypeInteger:
		return "BIGINT", nil
	case storage.TypeReal:
		return "FLOAT", nil
	case storage.TypeBoolean:
		return "BIT", nil
	case storage.TypeTimestamp:
		return "DATETIMEOFFSET", nil
	default:
		return "", fmt.Errorf("mssql: column %s has unsupported type %q", c.Name, c.Type)
	}
}

// mssqlPrimaryKeyDef returns a column definition for an identity primary key.
func mssqlPrimaryKeyDef(pk storage.PrimaryKeySpec) (string, error) {
	if strings.TrimSpace(pk.Name) == "" {
		return "", fmt.Errorf("mssql: primary key name is empty")
	}
	switch strings.ToLower(strings.TrimSpace(pk.Type)) {
	case "serial", "bigserial", "identity":
		return fmt.Sprintf("%s BIGINT IDENTITY(1,1) PRIMARY KEY", mssqlIdent(pk.Name)), nil
	default:
		return "", fmt.Errorf("mssql: unsupported primary key type %q", pk.Type)
	}
}

// mssqlColumnDef builds a SQL Server column definition. Nullable columns are spelled
// NULL explicitly since the server default depends on ANSI_NULL_DFLT settings.
func mssqlColumnDef(c storage.ColumnSpec, unique bool) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", fmt.Errorf("mssql: column name is empty")
	}
	typ, err := mssqlType(c, unique)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if c.Nullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if ref := c.References; ref != nil {
		fmt.Fprintf(&b, " REFERENCES %s (%s)", mssqlTableIdent(ref.Table), mssqlIdent(ref.Column))
		if strings.EqualFold(ref.OnDelete, "cascade") {
			b.WriteString(" ON DELETE CASCADE")
		}
	}
	return b.String(), nil
}

// buildCreateTableSQL renders CREATE TABLE for t.
func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}

	var parts []string
	if t.PrimaryKey != nil {
		def, err := mssqlPrimaryKeyDef(*t.PrimaryKey)
		if err != nil {
			return "", fmt.Errorf("%s: %w", t.Name, err)
		}
		parts = append(parts, def)
	}

	unique := t.UniqueColumns()
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c, unique[strings.ToLower(c.Name)])
		if err != nil {
			return "", fmt.Errorf("%s: %w", t.Name, err)
		}
		parts = append(parts, def)
	}

	for _, con := range t.Constraints {
		if !strings.EqualFold(con.Kind, "unique") {
			return "", fmt.Errorf("%s unsupported constraint kind: %s", t.Name, con.Kind)
		}
		if len(con.Columns) == 0 {
			return "", fmt.Errorf("%s unique constraint has no columns", t.Name)
		}
		cols := make([]string, 0, len(con.Columns))
		for _, c := range con.Columns {
			cols = append(cols, mssqlIdent(c))
		}
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", strings.Join(cols, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n);", mssqlTableIdent(t.Name), strings.Join(parts, ",\n  ")), nil
}

func buildDropTableSQL(table string) string {
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", mssqlTableIdent(table))
}

// buildInsertSQL constructs a multi-row INSERT with @pN placeholders. When output is
// set, the generated value of that column is returned with OUTPUT INSERTED.
func buildInsertSQL(table string, columns []string, rows []storage.Row, output string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(")")
	if output != "" {
		b.WriteString(" OUTPUT INSERTED.")
		b.WriteString(mssqlIdent(output))
	}
	b.WriteString(" VALUES ")

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
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

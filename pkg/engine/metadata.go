package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/queryhive/queryhive/pkg/models"
)

// Column describes one column of a table.
type Column struct {
	Name string
	Type string
}

// tablesQuery returns the catalog statement listing user-visible tables for
// a dialect. ClickHouse MUST be served from system.tables; it has no
// information_schema worth trusting and generic catalog queries fail
// against it.
func tablesQuery(kind models.ConnectionKind) (string, error) {
	switch kind {
	case models.KindSQLite:
		return `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
			ORDER BY name`, nil
	case models.KindPostgres:
		return `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
			ORDER BY table_name`, nil
	case models.KindClickHouse:
		return `SELECT name FROM system.tables
			WHERE database = currentDatabase() AND database != 'system'
			ORDER BY name`, nil
	}
	return "", fmt.Errorf("%w: unsupported dialect %q", ErrQuery, kind)
}

// columnsQuery returns the catalog statement describing one table's columns,
// taking the table name as its single parameter.
func columnsQuery(kind models.ConnectionKind) (string, error) {
	switch kind {
	case models.KindSQLite:
		return `SELECT name, type FROM pragma_table_info(?)`, nil
	case models.KindPostgres:
		return `SELECT column_name, data_type FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1
			ORDER BY ordinal_position`, nil
	case models.KindClickHouse:
		return `SELECT name, type FROM system.columns
			WHERE database = currentDatabase() AND table = ?
			ORDER BY position`, nil
	}
	return "", fmt.Errorf("%w: unsupported dialect %q", ErrQuery, kind)
}

// ListTables returns the user-visible table names of the handle's database,
// sorted by name.
func (h *Handle) ListTables(ctx context.Context) ([]string, error) {
	query, err := tablesQuery(h.kind)
	if err != nil {
		return nil, err
	}

	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list tables: %v", ErrQuery, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: list tables: %v", ErrQuery, err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list tables: %v", ErrQuery, err)
	}
	return tables, nil
}

// Columns returns the columns of one table in declaration order.
func (h *Handle) Columns(ctx context.Context, table string) ([]Column, error) {
	query, err := columnsQuery(h.kind)
	if err != nil {
		return nil, err
	}

	rows, err := h.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("%w: columns of %s: %v", ErrQuery, table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("%w: columns of %s: %v", ErrQuery, table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: columns of %s: %v", ErrQuery, table, err)
	}
	return cols, nil
}

// DescribeTables renders a model-facing schema summary for the given tables:
// one block per table with its columns and a handful of sample rows.
func (h *Handle) DescribeTables(ctx context.Context, tables []string, sampleRows int) (string, error) {
	var b strings.Builder
	for i, table := range tables {
		if i > 0 {
			b.WriteString("\n")
		}
		cols, err := h.Columns(ctx, table)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Table %s:\n", table)
		for _, c := range cols {
			fmt.Fprintf(&b, "  %s %s\n", c.Name, c.Type)
		}
		if sampleRows > 0 {
			sample, err := h.Sample(ctx, table, sampleRows)
			if err != nil {
				// Sample rows are best effort; the column listing alone is
				// still a usable schema.
				continue
			}
			if len(sample.Rows) > 0 {
				b.WriteString("  Sample rows:\n")
				b.WriteString(indent(sample.Render(), "  "))
			}
		}
	}
	return b.String(), nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}

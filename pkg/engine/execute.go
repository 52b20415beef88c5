package engine

import (
	"context"
	"fmt"
	"strings"
)

// ResultSet is the materialised output of a query, capped at the row limit
// the caller asked for.
type ResultSet struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// Execute runs a statement and returns at most limitRows rows. Rows beyond
// the cap are discarded and the result is marked truncated; the statement
// itself is sent as-is, so callers should bake LIMIT clauses into generated
// SQL where the dialect supports it.
func (h *Handle) Execute(ctx context.Context, query string, limitRows int) (*ResultSet, error) {
	rows, err := h.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}

	rs := &ResultSet{Columns: cols}
	for rows.Next() {
		if limitRows > 0 && len(rs.Rows) >= limitRows {
			rs.Truncated = true
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrQuery, err)
		}
		for i, v := range values {
			// Drivers hand back []byte for text columns; keep results
			// printable.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQuery, err)
	}
	return rs, nil
}

// Sample returns up to n rows of a table, for schema context building.
func (h *Handle) Sample(ctx context.Context, table string, n int) (*ResultSet, error) {
	if n < 1 {
		n = 1
	}
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", h.QuoteIdent(table), n)
	return h.Execute(ctx, query, n)
}

// Render formats the result set as aligned plain text, one row per line.
func (rs *ResultSet) Render() string {
	var b strings.Builder
	b.WriteString(strings.Join(rs.Columns, " | "))
	b.WriteString("\n")
	for _, row := range rs.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
			} else {
				cells[i] = fmt.Sprintf("%v", v)
			}
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	if rs.Truncated {
		b.WriteString("...\n")
	}
	return b.String()
}

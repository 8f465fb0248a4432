package reorgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/ordinalworks/chainweave/internal/engerrs"
)

// Tables returns the schema list this store was configured with, for
// callers (the read-only HTTP API) that need to know what's queryable.
// Not on the C6 write path.
func (s *Store) Tables() []TableSchema {
	out := make([]TableSchema, len(s.tables))
	copy(out, s.tables)
	return out
}

// QueryRows returns up to limit rows from table starting at offset, in
// column declaration order, along with the table's total row count. Reads
// the live user table directly, not its shadow table.
func (s *Store) QueryRows(ctx context.Context, table string, limit, offset int) ([]map[string]any, int, error) {
	schema, ok := s.tableSchema(table)
	if !ok {
		return nil, 0, fmt.Errorf("unknown table %q", table)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&total); err != nil {
		return nil, 0, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("count rows in %s", table), Err: err}
	}

	colList := strings.Join(schema.Columns, ", ")
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s LIMIT ? OFFSET ?", colList, table), limit, offset)
	if err != nil {
		return nil, 0, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("query rows in %s", table), Err: err}
	}
	defer rows.Close()

	out := make([]map[string]any, 0, limit)
	for rows.Next() {
		values := make([]any, len(schema.Columns))
		ptrs := make([]any, len(schema.Columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, 0, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("scan row in %s", table), Err: err}
		}
		row := make(map[string]any, len(schema.Columns))
		for i, c := range schema.Columns {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("iterate rows in %s", table), Err: err}
	}

	return out, total, nil
}

func (s *Store) tableSchema(name string) (TableSchema, bool) {
	for _, t := range s.tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableSchema{}, false
}

package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ordinalworks/chainweave/internal/engerrs"
	"github.com/ordinalworks/chainweave/internal/reorgstore"
)

var _ TableAccessors = (*WriteBuffer)(nil)

type writeOp uint8

const (
	opInsert writeOp = iota
	opUpdate
	opDelete
)

type bufferedRow struct {
	op     writeOp
	values map[string]interface{}
}

// WriteBuffer is the historical-mode staging layer in front of a table set:
// writes land in memory keyed by (table, primary key) and are only applied
// to the database at batch end. Reads check the buffer first and fall
// through to the database on a miss, giving read-your-writes within a batch
// (SPEC_FULL.md §4.6/§9).
type WriteBuffer struct {
	tables map[string]reorgstore.TableSchema
	tx     *sql.Tx
	rows   map[string]map[string]*bufferedRow
}

// NewWriteBuffer creates a buffer over the given compiled table set.
func NewWriteBuffer(tables []reorgstore.TableSchema) *WriteBuffer {
	t := make(map[string]reorgstore.TableSchema, len(tables))
	for _, s := range tables {
		t[s.Name] = s
	}
	return &WriteBuffer{tables: t}
}

// Attach binds the buffer to the transaction backing the current batch and
// clears any rows staged by a previous batch. Called once per batch before
// any handler runs.
func (w *WriteBuffer) Attach(tx *sql.Tx) {
	w.tx = tx
	w.rows = make(map[string]map[string]*bufferedRow)
}

func pkKey(schema reorgstore.TableSchema, values map[string]interface{}) string {
	var b strings.Builder
	for _, pk := range schema.PrimaryKey {
		fmt.Fprintf(&b, "%v\x00", values[pk])
	}
	return b.String()
}

func cloneRow(row map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func (w *WriteBuffer) tableRows(table string) map[string]*bufferedRow {
	rows := w.rows[table]
	if rows == nil {
		rows = make(map[string]*bufferedRow)
		w.rows[table] = rows
	}
	return rows
}

// Insert stages a new row.
func (w *WriteBuffer) Insert(ctx context.Context, table string, row map[string]interface{}) error {
	schema, ok := w.tables[table]
	if !ok {
		return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("unknown table %q", table), Err: fmt.Errorf("not in compiled schema")}
	}
	w.tableRows(table)[pkKey(schema, row)] = &bufferedRow{op: opInsert, values: cloneRow(row)}
	return nil
}

// Update stages a row merge: values overlaid on whatever the buffer (or a
// read-through to the database) currently holds for pk.
func (w *WriteBuffer) Update(ctx context.Context, table string, pk, values map[string]interface{}) error {
	schema, ok := w.tables[table]
	if !ok {
		return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("unknown table %q", table), Err: fmt.Errorf("not in compiled schema")}
	}

	existing, found, err := w.Find(ctx, table, pk)
	if err != nil {
		return err
	}
	merged := make(map[string]interface{})
	if found {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range pk {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}

	key := pkKey(schema, pk)
	rows := w.tableRows(table)
	op := opUpdate
	if prev, ok := rows[key]; ok && prev.op == opInsert {
		op = opInsert // still a net-new row for this batch
	}
	rows[key] = &bufferedRow{op: op, values: merged}
	return nil
}

// Delete stages a row removal.
func (w *WriteBuffer) Delete(ctx context.Context, table string, pk map[string]interface{}) error {
	schema, ok := w.tables[table]
	if !ok {
		return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("unknown table %q", table), Err: fmt.Errorf("not in compiled schema")}
	}
	w.tableRows(table)[pkKey(schema, pk)] = &bufferedRow{op: opDelete, values: cloneRow(pk)}
	return nil
}

// Find returns pk's current row, checking staged writes before falling
// through to the database.
func (w *WriteBuffer) Find(ctx context.Context, table string, pk map[string]interface{}) (map[string]interface{}, bool, error) {
	schema, ok := w.tables[table]
	if !ok {
		return nil, false, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("unknown table %q", table), Err: fmt.Errorf("not in compiled schema")}
	}
	key := pkKey(schema, pk)
	if rows, ok := w.rows[table]; ok {
		if row, ok := rows[key]; ok {
			if row.op == opDelete {
				return nil, false, nil
			}
			return cloneRow(row.values), true, nil
		}
	}
	return readThroughRow(ctx, w.tx, schema, pk)
}

// Flush writes every staged row to the database inside tx, in dependency
// order across tables: all inserts first, then all updates, then all
// deletes, so a row created earlier in the batch can already satisfy a
// foreign key referenced by a row written later in it.
func (w *WriteBuffer) Flush(ctx context.Context, tx *sql.Tx) error {
	for _, op := range []writeOp{opInsert, opUpdate, opDelete} {
		for table, rows := range w.rows {
			schema := w.tables[table]
			for _, row := range rows {
				if row.op != op {
					continue
				}
				var err error
				switch op {
				case opInsert, opUpdate:
					err = upsertRow(ctx, tx, schema, row.values)
				case opDelete:
					err = deleteRow(ctx, tx, schema, row.values)
				}
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func upsertRow(ctx context.Context, tx *sql.Tx, schema reorgstore.TableSchema, values map[string]interface{}) error {
	placeholders := make([]string, len(schema.Columns))
	args := make([]interface{}, len(schema.Columns))
	for i, col := range schema.Columns {
		placeholders[i] = "?"
		args[i] = values[col]
	}
	var setClauses []string
	for _, col := range schema.Columns {
		if isPK(schema, col) {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		schema.Name,
		strings.Join(schema.Columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(schema.PrimaryKey, ", "),
		strings.Join(setClauses, ", "),
	)
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return &engerrs.NonRetryableUser{Err: fmt.Errorf("flush upsert on %s: %w", schema.Name, err)}
	}
	return nil
}

func deleteRow(ctx context.Context, tx *sql.Tx, schema reorgstore.TableSchema, pk map[string]interface{}) error {
	clauses := make([]string, len(schema.PrimaryKey))
	args := make([]interface{}, len(schema.PrimaryKey))
	for i, col := range schema.PrimaryKey {
		clauses[i] = col + " = ?"
		args[i] = pk[col]
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", schema.Name, strings.Join(clauses, " AND "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return &engerrs.NonRetryableUser{Err: fmt.Errorf("flush delete on %s: %w", schema.Name, err)}
	}
	return nil
}

func readThroughRow(ctx context.Context, tx *sql.Tx, schema reorgstore.TableSchema, pk map[string]interface{}) (map[string]interface{}, bool, error) {
	if tx == nil {
		return nil, false, nil
	}
	clauses := make([]string, len(schema.PrimaryKey))
	args := make([]interface{}, len(schema.PrimaryKey))
	for i, col := range schema.PrimaryKey {
		clauses[i] = col + " = ?"
		args[i] = pk[col]
	}
	cols := strings.Join(schema.Columns, ", ")
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s", cols, schema.Name, strings.Join(clauses, " AND "))

	row := tx.QueryRowContext(ctx, stmt, args...)
	values := make([]interface{}, len(schema.Columns))
	scanTargets := make([]interface{}, len(schema.Columns))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	if err := row.Scan(scanTargets...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("read-through on %s", schema.Name), Err: err}
	}

	out := make(map[string]interface{}, len(schema.Columns))
	for i, col := range schema.Columns {
		out[col] = values[i]
	}
	return out, true, nil
}

func isPK(schema reorgstore.TableSchema, col string) bool {
	for _, pk := range schema.PrimaryKey {
		if pk == col {
			return true
		}
	}
	return false
}

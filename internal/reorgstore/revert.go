package reorgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ordinalworks/chainweave/internal/engerrs"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
)

// revertedRow is one shadow-table row captured for a key whose earliest
// post-c operation determines how to restore it.
type revertedRow struct {
	operation int
	values    map[string]interface{}
}

// Revert restores every user table to the state it had immediately after
// the last event committed at checkpoint <= c, per SPEC_FULL.md §4.5. It
// runs with triggers disabled for the whole operation so the restorative
// writes never repopulate the shadow tables, and holds the store's
// exclusive maintenance lock so no concurrent batch can observe a
// half-reverted table.
//
// SPEC_FULL.md describes this as a single five-stage CTE per table. SQLite
// only allows a data-modifying CTE when it sits directly under another DML
// statement, not chained through several derived SELECTs ending in a
// read-only query, so each stage below is a separate statement inside one
// transaction instead: the net effect — discard every post-c shadow row,
// keep only the earliest per key, and restore its pre-c image — is
// identical.
// RevertResult reports how many rows were restored per table, for the
// database_revert_rows_total metric.
type RevertResult struct {
	RowsByTable map[string]int
}

func (s *Store) Revert(ctx context.Context, c checkpoint.Checkpoint) (RevertResult, error) {
	unlock := s.maint.AcquireExclusiveLock()
	defer unlock()

	result := RevertResult{RowsByTable: make(map[string]int, len(s.tables))}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, &engerrs.Retryable{Op: "begin revert transaction", Err: err}
	}
	defer tx.Rollback()

	if err := s.DropTriggers(ctx, tx); err != nil {
		return result, err
	}

	for _, t := range s.tables {
		n, err := s.revertTableTx(ctx, tx, t, c)
		if err != nil {
			return result, err
		}
		result.RowsByTable[t.Name] = n
	}

	if err := s.RecreateTriggers(ctx, tx); err != nil {
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return result, &engerrs.NonRetryableEngine{Reason: "commit revert", Err: err}
	}
	return result, nil
}

func (s *Store) revertTableTx(ctx context.Context, tx *sql.Tx, t TableSchema, c checkpoint.Checkpoint) (int, error) {
	shadow := shadowTableName(t.Name)
	cols := strings.Join(t.Columns, ", ")

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf("SELECT operation_id, operation, %s FROM %s WHERE checkpoint > ? ORDER BY operation_id ASC", cols, shadow),
		string(c))
	if err != nil {
		return 0, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("select reverted rows from %s", shadow), Err: err}
	}

	earliestByKey := make(map[string]revertedRow)
	keyOrder := make([]string, 0)

	for rows.Next() {
		var operationID int64
		var operation int
		scanTargets := make([]interface{}, 2+len(t.Columns))
		scanTargets[0] = &operationID
		scanTargets[1] = &operation
		values := make([]interface{}, len(t.Columns))
		for i := range values {
			scanTargets[2+i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			rows.Close()
			return 0, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("scan reverted row from %s", shadow), Err: err}
		}

		rowValues := make(map[string]interface{}, len(t.Columns))
		for i, col := range t.Columns {
			rowValues[col] = values[i]
		}
		key := primaryKeyOf(t, rowValues)
		if _, seen := earliestByKey[key]; !seen {
			earliestByKey[key] = revertedRow{operation: operation, values: rowValues}
			keyOrder = append(keyOrder, key)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("iterate reverted rows from %s", shadow), Err: err}
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE checkpoint > ?", shadow), string(c)); err != nil {
		return 0, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("delete reverted rows from %s", shadow), Err: err}
	}

	for _, key := range keyOrder {
		row := earliestByKey[key]
		switch row.operation {
		case 0: // earliest post-c op was an INSERT: the key didn't exist before c.
			if err := s.deleteRowTx(ctx, tx, t, row.values); err != nil {
				return 0, err
			}
		case 1, 2: // earliest post-c op was an UPDATE or DELETE: row.values is the pre-c image.
			if err := s.upsertRowTx(ctx, tx, t, row.values); err != nil {
				return 0, err
			}
		}
	}

	return len(keyOrder), nil
}

func primaryKeyOf(t TableSchema, values map[string]interface{}) string {
	var b strings.Builder
	for _, pk := range t.PrimaryKey {
		fmt.Fprintf(&b, "%v\x00", values[pk])
	}
	return b.String()
}

func (s *Store) deleteRowTx(ctx context.Context, tx *sql.Tx, t TableSchema, values map[string]interface{}) error {
	where, args := pkWhere(t, values)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", t.Name, where)
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("revert delete on %s", t.Name), Err: err}
	}
	return nil
}

func (s *Store) upsertRowTx(ctx context.Context, tx *sql.Tx, t TableSchema, values map[string]interface{}) error {
	placeholders := make([]string, len(t.Columns))
	args := make([]interface{}, len(t.Columns))
	for i, col := range t.Columns {
		placeholders[i] = "?"
		args[i] = values[col]
	}

	var setClauses []string
	for _, col := range t.Columns {
		if isPrimaryKeyColumn(t, col) {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		t.Name,
		strings.Join(t.Columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(t.PrimaryKey, ", "),
		strings.Join(setClauses, ", "),
	)
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("revert upsert on %s", t.Name), Err: err}
	}
	return nil
}

func pkWhere(t TableSchema, values map[string]interface{}) (string, []interface{}) {
	clauses := make([]string, len(t.PrimaryKey))
	args := make([]interface{}, len(t.PrimaryKey))
	for i, pk := range t.PrimaryKey {
		clauses[i] = pk + " = ?"
		args[i] = values[pk]
	}
	return strings.Join(clauses, " AND "), args
}

func isPrimaryKeyColumn(t TableSchema, col string) bool {
	for _, pk := range t.PrimaryKey {
		if pk == col {
			return true
		}
	}
	return false
}

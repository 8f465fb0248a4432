package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ordinalworks/chainweave/internal/engerrs"
	"github.com/ordinalworks/chainweave/internal/reorgstore"
)

// DirectTable implements TableAccessors by writing straight through to the
// database inside one transaction, used in realtime mode where every event
// gets its own transaction and the capture triggers are expected to fire
// naturally (SPEC_FULL.md §4.6).
var _ TableAccessors = (*DirectTable)(nil)

type DirectTable struct {
	tables map[string]reorgstore.TableSchema
	tx     *sql.Tx
}

// NewDirectTable creates a DirectTable bound to tx.
func NewDirectTable(tables []reorgstore.TableSchema, tx *sql.Tx) *DirectTable {
	t := make(map[string]reorgstore.TableSchema, len(tables))
	for _, s := range tables {
		t[s.Name] = s
	}
	return &DirectTable{tables: t, tx: tx}
}

func (d *DirectTable) schema(table string) (reorgstore.TableSchema, error) {
	s, ok := d.tables[table]
	if !ok {
		return reorgstore.TableSchema{}, &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("unknown table %q", table), Err: fmt.Errorf("not in compiled schema")}
	}
	return s, nil
}

func (d *DirectTable) Insert(ctx context.Context, table string, row map[string]interface{}) error {
	schema, err := d.schema(table)
	if err != nil {
		return err
	}
	return upsertRow(ctx, d.tx, schema, row)
}

func (d *DirectTable) Update(ctx context.Context, table string, pk, values map[string]interface{}) error {
	schema, err := d.schema(table)
	if err != nil {
		return err
	}
	existing, found, err := d.Find(ctx, table, pk)
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
	return upsertRow(ctx, d.tx, schema, merged)
}

func (d *DirectTable) Delete(ctx context.Context, table string, pk map[string]interface{}) error {
	schema, err := d.schema(table)
	if err != nil {
		return err
	}
	return deleteRow(ctx, d.tx, schema, pk)
}

func (d *DirectTable) Find(ctx context.Context, table string, pk map[string]interface{}) (map[string]interface{}, bool, error) {
	schema, err := d.schema(table)
	if err != nil {
		return nil, false, err
	}
	return readThroughRow(ctx, d.tx, schema, pk)
}

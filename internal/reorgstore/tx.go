package reorgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ordinalworks/chainweave/internal/engerrs"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
)

// Tx wraps a database transaction opened against the store's tables. C6
// drives user handlers against Tx, then Stamps and Commits (or Rollbacks)
// it at the batch/event boundary.
type Tx struct {
	*sql.Tx
	store *Store
	mode  Mode
}

// Begin opens a transaction in the given mode. Historical mode transactions
// are expected to span a batch of events; realtime ones span exactly one.
func (s *Store) Begin(ctx context.Context, mode Mode) (*Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &engerrs.Retryable{Op: "begin transaction", Err: err}
	}
	return &Tx{Tx: sqlTx, store: s, mode: mode}, nil
}

// Stamp rewrites every MAX_CHECKPOINT row captured since the last stamp to
// c, across every shadow table. Called after each event in realtime mode or
// after each batch flush in historical mode.
func (tx *Tx) Stamp(ctx context.Context, c checkpoint.Checkpoint) error {
	for _, t := range tx.store.tables {
		stmt := fmt.Sprintf("UPDATE %s SET checkpoint = ? WHERE checkpoint = ?", shadowTableName(t.Name))
		if _, err := tx.ExecContext(ctx, stmt, string(c), string(checkpoint.Max)); err != nil {
			return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("stamp shadow table %s", t.Name), Err: err}
		}
	}
	return nil
}

// Commit commits the underlying transaction, translating a failure into the
// engine's error taxonomy.
func (tx *Tx) Commit() error {
	if err := tx.Tx.Commit(); err != nil {
		return &engerrs.Retryable{Op: "commit transaction", Err: err}
	}
	return nil
}

// Rollback rolls the underlying transaction back. Rollback after a
// successful Commit is a no-op (sql.ErrTxDone is swallowed).
func (tx *Tx) Rollback() error {
	if err := tx.Tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return &engerrs.NonRetryableEngine{Reason: "rollback transaction", Err: err}
	}
	return nil
}

// Mode reports which mode this transaction was opened under.
func (tx *Tx) Mode() Mode { return tx.mode }

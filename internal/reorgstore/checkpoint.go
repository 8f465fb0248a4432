package reorgstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ordinalworks/chainweave/internal/engerrs"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
)

// CheckpointState is the PONDER_CHECKPOINT row for this store's namespace.
type CheckpointState struct {
	SafeCheckpoint   checkpoint.Checkpoint
	LatestCheckpoint checkpoint.Checkpoint
}

// GetCheckpointState reads the namespace's current safe/latest checkpoint,
// used on restart to decide whether crash recovery must run (§5: if
// latestCheckpoint > safeCheckpoint, revert(safeCheckpoint) before accepting
// new events).
func (s *Store) GetCheckpointState(ctx context.Context) (CheckpointState, error) {
	var safe, latest string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT safe_checkpoint, latest_checkpoint FROM %s WHERE namespace = ?", ponderCheckpointTable),
		s.namespace,
	).Scan(&safe, &latest)
	if err != nil {
		return CheckpointState{}, &engerrs.NonRetryableEngine{Reason: "read PONDER_CHECKPOINT", Err: err}
	}
	return CheckpointState{SafeCheckpoint: checkpoint.Checkpoint(safe), LatestCheckpoint: checkpoint.Checkpoint(latest)}, nil
}

// SetLatestCheckpoint records progress within tx, called by C6 as events
// commit. It does not imply finality; Finalize is what advances
// safeCheckpoint.
func (s *Store) SetLatestCheckpoint(ctx context.Context, tx *Tx, c checkpoint.Checkpoint) error {
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET latest_checkpoint = ? WHERE namespace = ?", ponderCheckpointTable),
		string(c), s.namespace); err != nil {
		return &engerrs.NonRetryableEngine{Reason: "update latest_checkpoint", Err: err}
	}
	return nil
}

// Finalize deletes every shadow row with checkpoint <= c (they can never be
// reverted to again) and advances safeCheckpoint to c.
func (s *Store) Finalize(ctx context.Context, c checkpoint.Checkpoint) error {
	unlock := s.maint.AcquireExclusiveLock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &engerrs.Retryable{Op: "begin finalize transaction", Err: err}
	}
	defer tx.Rollback()

	for _, t := range s.tables {
		if err := finalizeTableTx(ctx, tx, t, c); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET safe_checkpoint = ? WHERE namespace = ?", ponderCheckpointTable),
		string(c), s.namespace); err != nil {
		return &engerrs.NonRetryableEngine{Reason: "update safe_checkpoint", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &engerrs.NonRetryableEngine{Reason: "commit finalize", Err: err}
	}
	return nil
}

func finalizeTableTx(ctx context.Context, tx *sql.Tx, t TableSchema, c checkpoint.Checkpoint) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE checkpoint <= ?", shadowTableName(t.Name))
	if _, err := tx.ExecContext(ctx, stmt, string(c)); err != nil {
		return &engerrs.NonRetryableEngine{Reason: fmt.Sprintf("finalize shadow table %s", t.Name), Err: err}
	}
	return nil
}

package reorgstore

import (
	"context"
	"database/sql"
	"testing"

	"github.com/ordinalworks/chainweave/internal/db"
	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	sqlDB, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	_, err = sqlDB.Exec(`CREATE TABLE transfers (id TEXT PRIMARY KEY, value INTEGER)`)
	require.NoError(t, err)

	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	tables := []TableSchema{
		{Name: "transfers", Columns: []string{"id", "value"}, PrimaryKey: []string{"id"}},
	}

	store := New(sqlDB, tables, &db.NoOpMaintenance{}, log, "test")
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store, sqlDB
}

func cp(n uint64) checkpoint.Checkpoint {
	return checkpoint.Encode(checkpoint.Fields{BlockTimestamp: n, ChainID: 1, BlockNumber: n})
}

// TestShadowCaptureAndStamp exercises I3: a plain INSERT via triggers lands
// in the shadow table at MAX_CHECKPOINT until Stamp rewrites it.
func TestShadowCaptureAndStamp(t *testing.T) {
	store, sqlDB := testStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, Realtime)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO transfers (id, value) VALUES (?, ?)", "a", 1)
	require.NoError(t, err)

	var shadowCheckpoint string
	require.NoError(t, tx.QueryRowContext(ctx, "SELECT checkpoint FROM _reorg_transfers WHERE id = ?", "a").Scan(&shadowCheckpoint))
	require.Equal(t, string(checkpoint.Max), shadowCheckpoint)

	require.NoError(t, tx.Stamp(ctx, cp(1)))
	require.NoError(t, tx.Commit())

	require.NoError(t, sqlDB.QueryRow("SELECT checkpoint FROM _reorg_transfers WHERE id = ?", "a").Scan(&shadowCheckpoint))
	require.Equal(t, string(cp(1)), shadowCheckpoint)
}

// TestRevertRestoresPreReorgState models property P3: after revert(c), every
// row is exactly what it was when c was committed.
func TestRevertRestoresPreReorgState(t *testing.T) {
	store, sqlDB := testStore(t)
	ctx := context.Background()

	// commit at checkpoint 1: insert "a" with value 1
	tx, err := store.Begin(ctx, Realtime)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO transfers (id, value) VALUES (?, ?)", "a", 1)
	require.NoError(t, err)
	require.NoError(t, tx.Stamp(ctx, cp(1)))
	require.NoError(t, tx.Commit())

	// commit at checkpoint 2: update "a" to value 2, insert "b"
	tx, err = store.Begin(ctx, Realtime)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "UPDATE transfers SET value = ? WHERE id = ?", 2, "a")
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO transfers (id, value) VALUES (?, ?)", "b", 10)
	require.NoError(t, err)
	require.NoError(t, tx.Stamp(ctx, cp(2)))
	require.NoError(t, tx.Commit())

	var value int
	require.NoError(t, sqlDB.QueryRow("SELECT value FROM transfers WHERE id = ?", "a").Scan(&value))
	require.Equal(t, 2, value)

	// reorg back to checkpoint 1
	result, err := store.Revert(ctx, cp(1))
	require.NoError(t, err)
	require.Equal(t, 2, result.RowsByTable["transfers"]) // "a" restored, "b" deleted

	require.NoError(t, sqlDB.QueryRow("SELECT value FROM transfers WHERE id = ?", "a").Scan(&value))
	require.Equal(t, 1, value)

	var count int
	require.NoError(t, sqlDB.QueryRow("SELECT COUNT(*) FROM transfers WHERE id = ?", "b").Scan(&count))
	require.Equal(t, 0, count)
}

// TestRevertDoesNotRepopulateShadowTables exercises scenario 6: reverting
// must not leave any MAX_CHECKPOINT rows, which would mean the revert's own
// writes were captured by triggers that should have been disabled.
func TestRevertDoesNotRepopulateShadowTables(t *testing.T) {
	store, sqlDB := testStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, Realtime)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO transfers (id, value) VALUES (?, ?)", "a", 1)
	require.NoError(t, err)
	require.NoError(t, tx.Stamp(ctx, cp(1)))
	require.NoError(t, tx.Commit())

	tx, err = store.Begin(ctx, Realtime)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "UPDATE transfers SET value = ? WHERE id = ?", 99, "a")
	require.NoError(t, err)
	require.NoError(t, tx.Stamp(ctx, cp(2)))
	require.NoError(t, tx.Commit())

	_, err = store.Revert(ctx, cp(1))
	require.NoError(t, err)

	var count int
	require.NoError(t, sqlDB.QueryRow("SELECT COUNT(*) FROM _reorg_transfers WHERE checkpoint = ?", string(checkpoint.Max)).Scan(&count))
	require.Equal(t, 0, count)
}

// TestFinalizeDeletesUpToCheckpoint exercises P4.
func TestFinalizeDeletesUpToCheckpoint(t *testing.T) {
	store, sqlDB := testStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx, Realtime)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO transfers (id, value) VALUES (?, ?)", "a", 1)
	require.NoError(t, err)
	require.NoError(t, tx.Stamp(ctx, cp(1)))
	require.NoError(t, tx.Commit())

	require.NoError(t, store.Finalize(ctx, cp(1)))

	var count int
	require.NoError(t, sqlDB.QueryRow("SELECT COUNT(*) FROM _reorg_transfers WHERE checkpoint <= ?", string(cp(1))).Scan(&count))
	require.Equal(t, 0, count)

	state, err := store.GetCheckpointState(ctx)
	require.NoError(t, err)
	require.Equal(t, cp(1), state.SafeCheckpoint)
}

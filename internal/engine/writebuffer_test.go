package engine

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ordinalworks/chainweave/internal/reorgstore"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(`CREATE TABLE accounts (id TEXT PRIMARY KEY, balance INTEGER)`)
	require.NoError(t, err)
	return db
}

func accountsSchema() []reorgstore.TableSchema {
	return []reorgstore.TableSchema{
		{Name: "accounts", Columns: []string{"id", "balance"}, PrimaryKey: []string{"id"}},
	}
}

func TestWriteBufferReadYourWrites(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	wb := NewWriteBuffer(accountsSchema())
	wb.Attach(tx)

	require.NoError(t, wb.Insert(ctx, "accounts", map[string]interface{}{"id": "a", "balance": int64(10)}))

	row, found, err := wb.Find(ctx, "accounts", map[string]interface{}{"id": "a"})
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 10, row["balance"])

	require.NoError(t, wb.Update(ctx, "accounts", map[string]interface{}{"id": "a"}, map[string]interface{}{"balance": int64(15)}))
	row, found, err = wb.Find(ctx, "accounts", map[string]interface{}{"id": "a"})
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 15, row["balance"])

	// Nothing has hit the database yet.
	var count int
	require.NoError(t, tx.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count))
	require.Equal(t, 0, count)
}

func TestWriteBufferFindFallsThroughToDatabase(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.Exec("INSERT INTO accounts (id, balance) VALUES (?, ?)", "seed", 100)
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	wb := NewWriteBuffer(accountsSchema())
	wb.Attach(tx)

	row, found, err := wb.Find(ctx, "accounts", map[string]interface{}{"id": "seed"})
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 100, row["balance"])
}

func TestWriteBufferDeleteHidesFromFind(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.Exec("INSERT INTO accounts (id, balance) VALUES (?, ?)", "seed", 100)
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()

	wb := NewWriteBuffer(accountsSchema())
	wb.Attach(tx)

	require.NoError(t, wb.Delete(ctx, "accounts", map[string]interface{}{"id": "seed"}))
	_, found, err := wb.Find(ctx, "accounts", map[string]interface{}{"id": "seed"})
	require.NoError(t, err)
	require.False(t, found)
}

func TestWriteBufferFlushAppliesStagedWrites(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.Exec("INSERT INTO accounts (id, balance) VALUES (?, ?)", "old", 5)
	require.NoError(t, err)

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)

	wb := NewWriteBuffer(accountsSchema())
	wb.Attach(tx)

	require.NoError(t, wb.Insert(ctx, "accounts", map[string]interface{}{"id": "new", "balance": int64(1)}))
	require.NoError(t, wb.Update(ctx, "accounts", map[string]interface{}{"id": "old"}, map[string]interface{}{"balance": int64(50)}))

	require.NoError(t, wb.Flush(ctx, tx))
	require.NoError(t, tx.Commit())

	var balance int
	require.NoError(t, db.QueryRow("SELECT balance FROM accounts WHERE id = ?", "new").Scan(&balance))
	require.Equal(t, 1, balance)
	require.NoError(t, db.QueryRow("SELECT balance FROM accounts WHERE id = ?", "old").Scan(&balance))
	require.Equal(t, 50, balance)
}

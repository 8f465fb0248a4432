package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/ordinalworks/chainweave/internal/db"
	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/merge"
	"github.com/ordinalworks/chainweave/internal/model"
	"github.com/ordinalworks/chainweave/internal/reorgstore"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *reorgstore.Store, *sql.DB, chan merge.Item) {
	t.Helper()
	sqlDB := testDB(t)
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	tables := accountsSchema()
	store := reorgstore.New(sqlDB, tables, &db.NoOpMaintenance{}, log, "test")
	require.NoError(t, store.EnsureSchema(context.Background()))

	registry := NewRegistry()
	registry.Register("credit", func(ctx context.Context, ev model.Event, ectx Context) error {
		row, found, err := ectx.DB.Find(ctx, "accounts", map[string]interface{}{"id": "a"})
		if err != nil {
			return err
		}
		balance := int64(0)
		if found {
			balance = row["balance"].(int64)
		}
		balance++
		values := map[string]interface{}{"id": "a", "balance": balance}
		if found {
			return ectx.DB.Update(ctx, "accounts", map[string]interface{}{"id": "a"}, values)
		}
		return ectx.DB.Insert(ctx, "accounts", values)
	})

	in := make(chan merge.Item, 16)
	merger := merge.New(cfg.Policy, []merge.ChainSource{{ChainID: 1, In: in}}, log, 16)

	engine := New(cfg, store, merger, registry, tables, log)
	engine.RegisterChain(1, "testchain", nil, NewChildAddressSet())

	return engine, store, sqlDB, in
}

func creditEvent(ts uint64) (merge.Item, checkpoint.Checkpoint) {
	ev := model.NewEvent(1, "credit", model.EventKindLog, ts, ts, 0, 0)
	return merge.Item{ChainID: 1, Kind: merge.ItemKindEvent, Event: &ev}, ev.Checkpoint
}

func runEngine(t *testing.T, engine *Engine, merger *merge.Merger, in chan merge.Item, feed func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return merger.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })

	feed()
	close(in)

	require.NoError(t, g.Wait())
}

func TestHistoricalBatchFlushThenRealtimeSwitch(t *testing.T) {
	engine, _, sqlDB, in := newTestEngine(t, Config{BatchSize: 2})
	merger := engine.merger

	runEngine(t, engine, merger, in, func() {
		var lastCP checkpoint.Checkpoint
		for ts := uint64(1); ts <= 4; ts++ {
			item, cp := creditEvent(ts)
			in <- item
			lastCP = cp
		}
		fin := &model.FinalizeSignal{ChainID: 1, Checkpoint: lastCP}
		in <- merge.Item{ChainID: 1, Kind: merge.ItemKindFinalize, Finalize: fin}
		item, _ := creditEvent(5)
		in <- item // should run in realtime mode now
	})

	var balance int64
	require.NoError(t, sqlDB.QueryRow("SELECT balance FROM accounts WHERE id = ?", "a").Scan(&balance))
	require.EqualValues(t, 5, balance)
}

func TestReorgRevertsToAncestorCheckpoint(t *testing.T) {
	engine, _, sqlDB, in := newTestEngine(t, Config{BatchSize: 1})
	merger := engine.merger

	runEngine(t, engine, merger, in, func() {
		item1, cp1 := creditEvent(1)
		item2, _ := creditEvent(2)
		in <- item1
		in <- item2
		reorg := &model.ReorgSignal{ChainID: 1, Checkpoint: cp1}
		in <- merge.Item{ChainID: 1, Kind: merge.ItemKindReorg, Reorg: reorg}
	})

	var balance int64
	require.NoError(t, sqlDB.QueryRow("SELECT balance FROM accounts WHERE id = ?", "a").Scan(&balance))
	require.EqualValues(t, 1, balance)
}

func TestCrashRecoveryRevertsOnStart(t *testing.T) {
	sqlDB := testDB(t)
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)
	tables := accountsSchema()
	store := reorgstore.New(sqlDB, tables, &db.NoOpMaintenance{}, log, "test")
	ctx := context.Background()
	require.NoError(t, store.EnsureSchema(ctx))

	// Simulate a prior run that advanced latestCheckpoint without finalizing:
	// insert a row, stamp it, but never call Finalize.
	storeTx, err := store.Begin(ctx, reorgstore.Historical)
	require.NoError(t, err)
	_, err = storeTx.ExecContext(ctx, "INSERT INTO accounts (id, balance) VALUES (?, ?)", "a", 1)
	require.NoError(t, err)
	require.NoError(t, storeTx.Stamp(ctx, cpAt(1)))
	require.NoError(t, store.SetLatestCheckpoint(ctx, storeTx, cpAt(1)))
	require.NoError(t, storeTx.Commit())

	registry := NewRegistry()
	in := make(chan merge.Item, 1)
	merger := merge.New(merge.Multichain, []merge.ChainSource{{ChainID: 1, In: in}}, log, 1)
	engine := New(Config{BatchSize: 1}, store, merger, registry, tables, log)

	close(in) // nothing to process; we only care about recoverFromCrash
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return merger.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	require.NoError(t, g.Wait())

	var count int
	require.NoError(t, sqlDB.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count))
	require.Equal(t, 0, count) // safeCheckpoint was Zero: revert(Zero) undoes the insert
}

func cpAt(ts uint64) checkpoint.Checkpoint {
	return checkpoint.Encode(checkpoint.Fields{BlockTimestamp: ts, ChainID: 1, BlockNumber: ts})
}

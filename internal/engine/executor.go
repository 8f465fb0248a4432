// Package engine implements the indexing executor (C6): it drains the
// ordering merger's output, dispatches events to registered handlers through
// a historical-mode write buffer or direct realtime writes, and applies
// Reorg/Finalize control events against the reorg-tracking store.
package engine

import (
	"context"
	"time"

	"github.com/ordinalworks/chainweave/internal/engerrs"
	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/merge"
	"github.com/ordinalworks/chainweave/internal/model"
	"github.com/ordinalworks/chainweave/internal/reorgstore"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
)

type runMode int

const (
	modeHistorical runMode = iota
	modeRealtime
)

// Engine drives the historical/realtime dual-mode executor described in
// SPEC_FULL.md §4.6. One Engine is instantiated per run; it owns no global
// state.
type Engine struct {
	cfg      Config
	store    *reorgstore.Store
	merger   *merge.Merger
	registry *Registry
	tables   []reorgstore.TableSchema
	log      *logger.Logger

	chainNames map[uint64]string
	clients    map[uint64]ReadonlyClient
	addrs      map[uint64]*ChildAddressSet
	contracts  map[string]ContractInfo

	mode      runMode
	latest    map[uint64]checkpoint.Checkpoint
	finalized map[uint64]checkpoint.Checkpoint
}

// New creates an Engine. tables must be the same compiled schema the store
// was created with.
func New(cfg Config, store *reorgstore.Store, merger *merge.Merger, registry *Registry, tables []reorgstore.TableSchema, log *logger.Logger) *Engine {
	cfg.ApplyDefaults()
	return &Engine{
		cfg:        cfg,
		store:      store,
		merger:     merger,
		registry:   registry,
		tables:     tables,
		log:        log.WithComponent("engine"),
		chainNames: make(map[uint64]string),
		clients:    make(map[uint64]ReadonlyClient),
		addrs:      make(map[uint64]*ChildAddressSet),
		contracts:  make(map[string]ContractInfo),
		latest:     make(map[uint64]checkpoint.Checkpoint),
		finalized:  make(map[uint64]checkpoint.Checkpoint),
	}
}

// RegisterChain associates a chain with the client handlers use for
// deterministic reads and the child-address set its feeder shares.
func (e *Engine) RegisterChain(chainID uint64, name string, client ReadonlyClient, addrs *ChildAddressSet) {
	e.chainNames[chainID] = name
	e.clients[chainID] = client
	e.addrs[chainID] = addrs
}

// RegisterContract adds a named ABI/address entry to every handler's Context.Contracts map.
func (e *Engine) RegisterContract(name string, info ContractInfo) {
	e.contracts[name] = info
}

// Run drains the merger until its output channel closes or ctx is
// cancelled. It performs crash recovery before consuming the first item.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.recoverFromCrash(ctx); err != nil {
		return err
	}
	publishSettingsInfo(e.cfg.orderingLabel(), "sqlite", "indexer")

	e.mode = modeHistorical
	wb := NewWriteBuffer(e.tables)
	var batch []merge.Item

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := e.flushBatch(ctx, wb, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-e.merger.Out():
			if !ok {
				return flush()
			}

			switch item.Kind {
			case merge.ItemKindEvent:
				if e.mode == modeRealtime {
					if err := e.processRealtime(ctx, *item.Event); err != nil {
						return err
					}
					continue
				}
				batch = append(batch, item)
				if len(batch) >= e.cfg.BatchSize {
					if err := flush(); err != nil {
						return err
					}
				}

			case merge.ItemKindReorg:
				if err := flush(); err != nil {
					return err
				}
				if err := e.handleReorg(ctx, item.ChainID, item.Reorg); err != nil {
					return err
				}

			case merge.ItemKindFinalize:
				if err := flush(); err != nil {
					return err
				}
				if err := e.handleFinalize(ctx, item.ChainID, item.Finalize); err != nil {
					return err
				}
				if e.mode == modeHistorical && e.caughtUp() {
					e.mode = modeRealtime
					e.log.Infow("switched to realtime mode", "chain", item.ChainID)
				}
			}
		}
	}
}

// flushBatch opens one transaction for the whole batch, runs every event's
// handler against the write buffer, bulk-flushes the buffer, then stamps and
// commits (SPEC_FULL.md §4.6 historical mode).
func (e *Engine) flushBatch(ctx context.Context, wb *WriteBuffer, batch []merge.Item) error {
	storeTx, err := e.store.Begin(ctx, reorgstore.Historical)
	if err != nil {
		return err
	}
	defer storeTx.Rollback()

	wb.Attach(storeTx.Tx)

	byChain := make(map[uint64]checkpoint.Checkpoint, len(batch))
	var maxCheckpoint checkpoint.Checkpoint
	for _, item := range batch {
		ev := *item.Event
		if err := e.dispatch(ctx, ev, wb); err != nil {
			return err
		}
		byChain[item.ChainID] = ev.Checkpoint
		if maxCheckpoint == "" || checkpoint.Less(maxCheckpoint, ev.Checkpoint) {
			maxCheckpoint = ev.Checkpoint
		}
	}

	if err := wb.Flush(ctx, storeTx.Tx); err != nil {
		return err
	}
	if err := storeTx.Stamp(ctx, maxCheckpoint); err != nil {
		return err
	}
	if err := e.store.SetLatestCheckpoint(ctx, storeTx, maxCheckpoint); err != nil {
		return err
	}
	if err := storeTx.Commit(); err != nil {
		return err
	}

	for chainID, cp := range byChain {
		e.latest[chainID] = cp
	}
	return nil
}

// processRealtime opens one transaction per event, writes straight to the
// user table (letting triggers fire), then stamps and commits.
func (e *Engine) processRealtime(ctx context.Context, ev model.Event) error {
	storeTx, err := e.store.Begin(ctx, reorgstore.Realtime)
	if err != nil {
		return err
	}
	defer storeTx.Rollback()

	dt := NewDirectTable(e.tables, storeTx.Tx)
	if err := e.dispatch(ctx, ev, dt); err != nil {
		return err
	}

	if err := storeTx.Stamp(ctx, ev.Checkpoint); err != nil {
		return err
	}
	if err := e.store.SetLatestCheckpoint(ctx, storeTx, ev.Checkpoint); err != nil {
		return err
	}
	if err := storeTx.Commit(); err != nil {
		return err
	}

	e.latest[ev.ChainID] = ev.Checkpoint
	return nil
}

// dispatch looks up ev's handler and invokes it with a fresh Context. An
// event with no registered handler is a no-op, not an error: not every event
// a source declares needs a matching handler.
func (e *Engine) dispatch(ctx context.Context, ev model.Event, accessors TableAccessors) error {
	fn, ok := e.registry.Lookup(ev.Name)
	if !ok {
		return nil
	}

	ectx := Context{
		Chain:     ChainInfo{ID: ev.ChainID, Name: e.chainNames[ev.ChainID]},
		Client:    e.clients[ev.ChainID],
		DB:        accessors,
		Contracts: e.contracts,
		addrs:     e.addrs[ev.ChainID],
	}

	start := time.Now()
	err := fn(ctx, ev, ectx)
	observeHandlerDuration(ev.Name, time.Since(start))
	if err != nil {
		block := uint64(0)
		if fields, decodeErr := checkpoint.Decode(string(ev.Checkpoint)); decodeErr == nil {
			block = fields.BlockNumber
		}
		return &engerrs.NonRetryableUser{
			Event: engerrs.EventContext{
				Name:       ev.Name,
				ChainID:    ev.ChainID,
				Block:      block,
				Checkpoint: string(ev.Checkpoint),
			},
			Err: err,
		}
	}
	return nil
}

// handleReorg reverts every table to its state at the reorg's ancestor
// checkpoint. Child-address forgetting happens in the chain feeder, which
// shares the same ChildAddressSet.
func (e *Engine) handleReorg(ctx context.Context, chainID uint64, reorg *model.ReorgSignal) error {
	result, err := e.store.Revert(ctx, reorg.Checkpoint)
	if err != nil {
		return err
	}
	for table, n := range result.RowsByTable {
		observeRevertRows(table, n)
	}
	observeReorg(chainID, uint64(len(reorg.ReorgedBlocks)))
	e.latest[chainID] = reorg.Checkpoint
	e.log.Warnw("reorg handled", "chain", chainID, "checkpoint", reorg.Checkpoint, "blocks_removed", len(reorg.ReorgedBlocks))
	return nil
}

// handleFinalize advances the safe checkpoint and prunes shadow rows that
// can never be reverted to again.
func (e *Engine) handleFinalize(ctx context.Context, chainID uint64, fin *model.FinalizeSignal) error {
	if err := e.store.Finalize(ctx, fin.Checkpoint); err != nil {
		return err
	}
	e.finalized[chainID] = fin.Checkpoint
	e.log.Debugw("finalized", "chain", chainID, "checkpoint", fin.Checkpoint)
	return nil
}

// caughtUp reports whether every chain seen so far has its latest
// checkpoint at or past its last finalized checkpoint, the trigger for
// switching out of historical mode.
func (e *Engine) caughtUp() bool {
	if len(e.latest) == 0 {
		return false
	}
	for chainID, latest := range e.latest {
		fin, ok := e.finalized[chainID]
		if !ok || checkpoint.Less(latest, fin) {
			return false
		}
	}
	return true
}

// recoverFromCrash implements SPEC_FULL.md §5's crash-recovery rule: if the
// persisted latest checkpoint ran ahead of the last finalized safe
// checkpoint, a previous run died mid-batch or mid-event and every table
// must be reverted back to the safe checkpoint before accepting new events.
func (e *Engine) recoverFromCrash(ctx context.Context) error {
	state, err := e.store.GetCheckpointState(ctx)
	if err != nil {
		return err
	}
	if !checkpoint.Less(state.SafeCheckpoint, state.LatestCheckpoint) {
		return nil
	}
	e.log.Warnw("crash recovery: reverting to safe checkpoint",
		"safe", state.SafeCheckpoint, "latest", state.LatestCheckpoint)
	result, err := e.store.Revert(ctx, state.SafeCheckpoint)
	if err != nil {
		return err
	}
	for table, n := range result.RowsByTable {
		observeRevertRows(table, n)
	}
	return nil
}

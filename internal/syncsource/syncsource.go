// Package syncsource implements the per-chain sync source adapter (C3): an
// in-memory ring of unfinalized blocks that detects reorgs by parent-hash
// continuity and emits Block/Reorg/Finalize updates to the ordering merger.
//
// Fetching raw blocks, logs and traces off the wire is a transport concern
// (raw RPC transport drivers are out of scope, see SPEC_FULL.md §1); this
// package only consumes already-assembled RawBlockBundle values through
// Feed and performs the reconcile algorithm against its ring buffer.
package syncsource

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ordinalworks/chainweave/internal/engerrs"
	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/model"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
)

// DefaultFinalityDepth returns the number of blocks a chain must sink below
// the tip before it is considered immutable, for chains with no explicit
// override in configuration.
func DefaultFinalityDepth(chainID uint64) uint64 {
	switch chainID {
	case 1, 11155111:
		return 65
	case 137, 80001:
		return 200
	case 42161:
		return 240
	default:
		return 30
	}
}

// UpdateKind identifies which variant of Update is populated.
type UpdateKind uint8

const (
	UpdateKindBlock UpdateKind = iota
	UpdateKindReorg
	UpdateKindFinalize
)

// Update is the value emitted by an Adapter's output channel.
type Update struct {
	Kind     UpdateKind
	Bundle   *model.RawBlockBundle
	Reorg    *model.ReorgSignal
	Finalize *model.FinalizeSignal
}

type ringEntry struct {
	header *types.Header
}

func (e ringEntry) number() uint64    { return e.header.Number.Uint64() }
func (e ringEntry) hash() common.Hash { return e.header.Hash() }

// Adapter tracks one chain's unfinalized blocks and reconciles incoming
// blocks against them.
type Adapter struct {
	chainID       uint64
	finalityDepth uint64
	log           *logger.Logger

	ring []ringEntry
	out  chan Update
}

// New creates an Adapter for chainID. outBufSize sizes the bounded output
// channel (SPEC_FULL.md §9 recommends ~2x the executor's batch size so the
// adapter never blocks on a slow downstream merger).
func New(chainID uint64, finalityDepth uint64, log *logger.Logger, outBufSize int) *Adapter {
	if finalityDepth == 0 {
		finalityDepth = DefaultFinalityDepth(chainID)
	}
	return &Adapter{
		chainID:       chainID,
		finalityDepth: finalityDepth,
		log:           log.WithComponent(fmt.Sprintf("syncsource-%d", chainID)),
		out:           make(chan Update, outBufSize),
	}
}

// Out returns the adapter's output channel. It is closed by Close.
func (a *Adapter) Out() <-chan Update {
	return a.out
}

// Close closes the output channel. Callers must stop calling Feed first.
func (a *Adapter) Close() {
	close(a.out)
}

// Feed reconciles an incoming block bundle against the ring and pushes the
// resulting Block/Reorg/Finalize update(s) to the output channel. It blocks
// only as long as the channel is full, giving the merger natural
// backpressure control; ctx cancellation unblocks it immediately.
func (a *Adapter) Feed(ctx context.Context, bundle *model.RawBlockBundle) error {
	if bundle.ChainID != a.chainID {
		return &engerrs.NonRetryableEngine{Reason: "block bundle for wrong chain", Err: fmt.Errorf("adapter=%d bundle=%d", a.chainID, bundle.ChainID)}
	}

	incoming := bundle.Block

	if len(a.ring) > 0 {
		latest := a.ring[len(a.ring)-1]
		if incoming.Number.Uint64() <= latest.number() || incoming.ParentHash != latest.hash() {
			if err := a.handleReorg(ctx, incoming); err != nil {
				return err
			}
		}
	}

	a.ring = append(a.ring, ringEntry{header: incoming})
	if err := a.emit(ctx, Update{Kind: UpdateKindBlock, Bundle: bundle}); err != nil {
		return err
	}

	for uint64(len(a.ring)) > a.finalityDepth {
		front := a.ring[0]
		a.ring = a.ring[1:]
		fin := &model.FinalizeSignal{ChainID: a.chainID, Checkpoint: blockCheckpoint(a.chainID, front.header)}
		if err := a.emit(ctx, Update{Kind: UpdateKindFinalize, Finalize: fin}); err != nil {
			return err
		}
	}

	return nil
}

// handleReorg walks the ring backwards from its tip looking for the block
// whose hash equals incoming's parent hash. Every block walked past is
// reported as reorged. If the ring is exhausted without finding the common
// ancestor, the reorg is deeper than the finality window and is
// Unrecoverable.
func (a *Adapter) handleReorg(ctx context.Context, incoming *types.Header) error {
	ancestorIdx := -1
	var reorged []model.ReorgedBlock

	for i := len(a.ring) - 1; i >= 0; i-- {
		if a.ring[i].hash() == incoming.ParentHash {
			ancestorIdx = i
			break
		}
		reorged = append(reorged, model.ReorgedBlock{Block: a.ring[i].header})
	}

	if ancestorIdx == -1 {
		oldest := "<empty ring>"
		if len(a.ring) > 0 {
			oldest = a.ring[0].hash().Hex()
		}
		deep := &engerrs.DeepReorg{
			ChainID:        a.chainID,
			IncomingParent: incoming.ParentHash.Hex(),
			OldestRingHash: oldest,
		}
		a.log.Errorf("deep reorg detected: %v", deep)
		return deep.AsUnrecoverable()
	}

	ancestor := a.ring[ancestorIdx]
	a.ring = a.ring[:ancestorIdx+1]

	a.log.Warnf("reorg detected on chain %d: %d blocks reorged back to block %d",
		a.chainID, len(reorged), ancestor.number())

	signal := &model.ReorgSignal{
		ChainID:       a.chainID,
		Checkpoint:    blockCheckpoint(a.chainID, ancestor.header),
		ReorgedBlocks: reorged,
	}
	return a.emit(ctx, Update{Kind: UpdateKindReorg, Reorg: signal})
}

func (a *Adapter) emit(ctx context.Context, u Update) error {
	select {
	case a.out <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// blockCheckpoint encodes the checkpoint position of a block-level event:
// transactionIndex and eventIndex are both 0.
func blockCheckpoint(chainID uint64, header *types.Header) checkpoint.Checkpoint {
	return checkpoint.Encode(checkpoint.Fields{
		BlockTimestamp: header.Time,
		ChainID:        chainID,
		BlockNumber:    header.Number.Uint64(),
		EventType:      checkpoint.EventTypeBlock,
	})
}

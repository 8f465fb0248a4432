// Package ingest implements the event builder/decoder (C2): it turns a raw
// block bundle plus the declared event sources for its chain into a
// checkpoint-ordered slice of typed events.
package ingest

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/model"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
)

// Builder decodes RawBlockBundle values into sorted Event slices according
// to a fixed set of declared sources.
type Builder struct {
	log *logger.Logger
}

// New creates a Builder.
func New(log *logger.Logger) *Builder {
	return &Builder{log: log.WithComponent("event-builder")}
}

// txIndexOf returns the index of tx.Hash within bundle.Transactions, used as
// the checkpoint's transactionIndex field. Returns 0 for non-transaction
// (block-level) events, matching SPEC_FULL.md §4.2.
func txIndexOf(bundle *model.RawBlockBundle, txHash common.Hash) uint64 {
	for i, tx := range bundle.Transactions {
		if tx.Hash() == txHash {
			return uint64(i)
		}
	}
	return 0
}

// Build decodes bundle against sources and returns events sorted ascending
// by checkpoint. Per-item decode failures (such as a log missing expected
// topics) are logged at debug and the item is dropped; they never fail the
// whole batch. Traces in the bundle are not decoded.
func (b *Builder) Build(bundle *model.RawBlockBundle, sources []model.Source, childAddresses map[common.Address]struct{}) ([]model.Event, error) {
	if bundle == nil || bundle.Block == nil {
		return nil, fmt.Errorf("ingest: nil block bundle")
	}

	var events []model.Event
	blockNumber := bundle.Block.Number.Uint64()
	blockTimestamp := bundle.Block.Time

	for _, src := range sources {
		if src.ChainID != bundle.ChainID {
			continue
		}

		switch src.Kind {
		case model.SourceKindContract:
			events = append(events, b.decodeContractLogs(bundle, src, blockTimestamp, blockNumber, childAddresses)...)
		case model.SourceKindAccount:
			events = append(events, b.decodeAccountActivity(bundle, src, blockTimestamp, blockNumber)...)
		case model.SourceKindBlock:
			if ev, ok := b.decodeBlockEvent(bundle, src, blockTimestamp, blockNumber); ok {
				events = append(events, ev)
			}
		}
	}

	sort.Slice(events, func(i, j int) bool {
		return checkpoint.Less(events[i].Checkpoint, events[j].Checkpoint)
	})

	return events, nil
}

func (b *Builder) decodeContractLogs(
	bundle *model.RawBlockBundle,
	src model.Source,
	blockTimestamp, blockNumber uint64,
	childAddresses map[common.Address]struct{},
) []model.Event {
	var out []model.Event

	for i := range bundle.Logs {
		lg := &bundle.Logs[i]

		if lg.Address != src.Address {
			if !(src.Factory && isChildAddress(lg.Address, childAddresses)) {
				continue
			}
		}

		if len(lg.Topics) == 0 {
			b.log.Debugf("dropping log with no topics: tx=%s index=%d", lg.TxHash.Hex(), lg.Index)
			continue
		}

		if len(src.Topics) > 0 && !topicMatches(lg.Topics[0], src.Topics) {
			continue
		}

		ev := model.NewEvent(src.ChainID, src.Name, model.EventKindLog, blockTimestamp, blockNumber,
			txIndexOf(bundle, lg.TxHash), uint64(lg.Index))
		ev.Log = lg
		out = append(out, ev)
	}

	return out
}

func (b *Builder) decodeAccountActivity(
	bundle *model.RawBlockBundle,
	src model.Source,
	blockTimestamp, blockNumber uint64,
) []model.Event {
	var out []model.Event

	for i, tx := range bundle.Transactions {
		to := tx.To()
		if to == nil || *to != src.Account {
			continue
		}

		ev := model.NewEvent(src.ChainID, src.Name, model.EventKindTransaction, blockTimestamp, blockNumber, uint64(i), 0)
		ev.Transaction = tx
		out = append(out, ev)

		if tx.Value() != nil && tx.Value().Sign() > 0 {
			from, err := txSender(src.ChainID, tx)
			if err != nil {
				b.log.Debugf("dropping transfer decode for tx %s: %v", tx.Hash().Hex(), err)
				continue
			}
			transferEv := model.NewEvent(src.ChainID, src.Name+":transfer", model.EventKindTransfer, blockTimestamp, blockNumber, uint64(i), 0)
			transferEv.Transfer = &model.TransferPayload{From: from, To: *to, Value: tx.Value()}
			out = append(out, transferEv)
		}
	}

	return out
}

func (b *Builder) decodeBlockEvent(
	bundle *model.RawBlockBundle,
	src model.Source,
	blockTimestamp, blockNumber uint64,
) (model.Event, bool) {
	interval := src.Interval
	if interval == 0 {
		interval = 1
	}
	if blockNumber%interval != 0 {
		return model.Event{}, false
	}

	ev := model.NewEvent(src.ChainID, src.Name, model.EventKindBlock, blockTimestamp, blockNumber, 0, 0)
	ev.Block = bundle.Block
	return ev, true
}

// SetupEvents returns the one-time setup events for every distinct
// (chainID, handler name) pair declared in sources, each at ZERO_CHECKPOINT.
// The executor (C6) calls this once per chain before delivering any real
// event for it.
func (b *Builder) SetupEvents(sources []model.Source) []model.Event {
	seen := make(map[string]struct{})
	var out []model.Event
	for _, src := range sources {
		key := fmt.Sprintf("%d:%s", src.ChainID, src.Name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, model.SetupEvent(src.ChainID, src.Name))
	}
	return out
}

func isChildAddress(addr common.Address, set map[common.Address]struct{}) bool {
	_, ok := set[addr]
	return ok
}

func topicMatches(topic common.Hash, candidates []common.Hash) bool {
	for _, c := range candidates {
		if c == topic {
			return true
		}
	}
	return false
}

// txSender recovers the sender address from a transaction's signature using
// the EIP-155 signer for chainID. This is a non-fatal decode step: a
// malformed signature drops the native-transfer event but not the rest of
// the block.
func txSender(chainID uint64, tx *types.Transaction) (common.Address, error) {
	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(chainID))
	return types.Sender(signer, tx)
}

// Package model holds the data types shared by every stage of the indexing
// pipeline: raw chain payloads, the decoded event union, declarative event
// sources, and the reorg/finalize control signals that flow alongside them.
package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
)

// RawBlockBundle is everything the sync source gathers for one block before
// it is decoded into events.
type RawBlockBundle struct {
	ChainID             uint64
	Block               *types.Header
	Logs                []types.Log
	Transactions        []*types.Transaction
	TransactionReceipts []*types.Receipt
	Traces              []Trace
}

// Trace is a minimal call-trace record; real trace decoding is left to the
// RPC transport driver, which is out of scope for this core.
type Trace struct {
	TransactionHash common.Hash
	TraceAddress    []int
	From            common.Address
	To              common.Address
	Input           []byte
	Output          []byte
}

// EventKind identifies which variant of the Event union a value holds.
type EventKind uint8

const (
	EventKindSetup EventKind = iota
	EventKindLog
	EventKindTrace
	EventKindTransaction
	EventKindTransfer
	EventKindBlock
)

func (k EventKind) String() string {
	switch k {
	case EventKindSetup:
		return "setup"
	case EventKindLog:
		return "log"
	case EventKindTrace:
		return "trace"
	case EventKindTransaction:
		return "transaction"
	case EventKindTransfer:
		return "transfer"
	case EventKindBlock:
		return "block"
	default:
		return "unknown"
	}
}

// checkpointEventType maps an EventKind to the single-digit eventType field
// encoded into a checkpoint. Checkpoints are persisted (shadow tables and
// PONDER_CHECKPOINT) and compared across restarts, so the mapping must stay
// fixed across builds.
func (k EventKind) checkpointEventType() checkpoint.EventType {
	switch k {
	case EventKindSetup:
		return checkpoint.EventTypeSetup
	case EventKindBlock:
		return checkpoint.EventTypeBlock
	case EventKindTransaction:
		return checkpoint.EventTypeTransaction
	case EventKindTransfer:
		return checkpoint.EventTypeTransfer
	case EventKindLog:
		return checkpoint.EventTypeLog
	case EventKindTrace:
		return checkpoint.EventTypeTrace
	default:
		return checkpoint.EventTypeLog
	}
}

// Event is the tagged union produced by the event builder (C2) and consumed
// by the indexing executor (C6). Exactly one of the payload fields is
// meaningful, selected by Kind.
type Event struct {
	ChainID    uint64
	Name       string
	Checkpoint checkpoint.Checkpoint
	Kind       EventKind

	Log         *types.Log
	Trace       *Trace
	Transaction *types.Transaction
	Transfer    *TransferPayload
	Block       *types.Header
}

// TransferPayload is the decoded representation of a native-currency
// transfer (as opposed to an ERC20 Transfer log, which arrives as a Log
// event filtered by topic0).
type TransferPayload struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// NewEvent builds an Event and computes its checkpoint from the supplied
// positional fields, keeping the checkpoint encoding centralized here so
// every producer (the builder in C2, setup-event emission in C6) agrees on
// field order.
func NewEvent(chainID uint64, name string, kind EventKind, blockTimestamp, blockNumber, txIndex, eventIndex uint64) Event {
	cp := checkpoint.Encode(checkpoint.Fields{
		BlockTimestamp:   blockTimestamp,
		ChainID:          chainID,
		BlockNumber:      blockNumber,
		TransactionIndex: txIndex,
		EventType:        kind.checkpointEventType(),
		EventIndex:       eventIndex,
	})
	return Event{ChainID: chainID, Name: name, Checkpoint: cp, Kind: kind}
}

// SetupEvent builds the one-time setup event for a (chain, handler) pair at
// ZERO_CHECKPOINT.
func SetupEvent(chainID uint64, handlerName string) Event {
	return Event{
		ChainID:    chainID,
		Name:       handlerName,
		Checkpoint: checkpoint.Zero,
		Kind:       EventKindSetup,
	}
}

// SourceKind identifies which variant of the Source union a value holds.
type SourceKind uint8

const (
	SourceKindContract SourceKind = iota
	SourceKindAccount
	SourceKindBlock
)

// Source is a declarative filter describing which raw chain items become
// events, and under what handler name.
type Source struct {
	Kind    SourceKind
	ChainID uint64
	Name    string

	// Contract fields
	Address common.Address
	Topics  []common.Hash
	Factory bool

	// Account fields
	Account common.Address

	// Block fields
	Interval uint64
}

// ReorgedBlock is a block that was removed from the canonical chain by a
// reorg, together with any factory-discovered child addresses that must be
// forgotten because they were discovered inside it.
type ReorgedBlock struct {
	Block                 *types.Header
	RemovedChildAddresses []common.Address
}

// ControlEvent is either a Reorg or a Finalize signal, interleaved with the
// ordinary event stream by the ordering merger.
type ControlEvent struct {
	Reorg    *ReorgSignal
	Finalize *FinalizeSignal
}

// ReorgSignal carries the checkpoint of the common ancestor and every block
// that was removed above it.
type ReorgSignal struct {
	ChainID      uint64
	Checkpoint   checkpoint.Checkpoint
	ReorgedBlocks []ReorgedBlock
}

// FinalizeSignal carries the checkpoint up to which the chain is now
// considered immutable.
type FinalizeSignal struct {
	ChainID    uint64
	Checkpoint checkpoint.Checkpoint
}

// IsControl reports whether cv carries a control signal. A zero-valued
// ControlEvent is never produced by the merger; this helper exists for
// symmetry with Event dispatch code.
func (c ControlEvent) IsControl() bool {
	return c.Reorg != nil || c.Finalize != nil
}

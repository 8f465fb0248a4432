// Package merge implements the ordering merger (C4): it fans in the
// checkpoint-sorted event streams produced per chain by C2/C3 into a single
// sequence under one of two immutable policies, multichain or omnichain, and
// passes Reorg/Finalize control events straight through.
package merge

import (
	"container/heap"
	"context"

	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/model"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
	"golang.org/x/sync/errgroup"
)

// Policy selects how events from different chains interleave. It is chosen
// at start and never changes for the life of a Merger.
type Policy int

const (
	// Multichain keeps each chain's events in its own checkpoint order but
	// places no ordering constraint across chains: any chain's buffered item
	// is forwarded first. When no chain has a buffered item, the merger waits
	// on a single open chain until it yields or closes; items that arrive on
	// other chains meanwhile are not read until then.
	Multichain Policy = iota
	// Omnichain merges every chain's events into one checkpoint-sorted
	// sequence using the minimum-frontier rule: an event is only emitted
	// once every other open chain has a buffered item with a greater
	// checkpoint (or has closed).
	Omnichain
)

// ItemKind identifies which field of Item is populated.
type ItemKind uint8

const (
	ItemKindEvent ItemKind = iota
	ItemKindReorg
	ItemKindFinalize
)

// Item is one unit flowing out of the merger: either a decoded event or a
// control signal from the sync source adapter for chainID.
type Item struct {
	ChainID  uint64
	Kind     ItemKind
	Event    *model.Event
	Reorg    *model.ReorgSignal
	Finalize *model.FinalizeSignal
}

func (it Item) checkpointStr() checkpoint.Checkpoint {
	switch it.Kind {
	case ItemKindEvent:
		return it.Event.Checkpoint
	case ItemKindReorg:
		return it.Reorg.Checkpoint
	default:
		return it.Finalize.Checkpoint
	}
}

// ChainSource is one chain's upstream item channel, already checkpoint
// ordered by C2/C3 (events ascending; control items interleaved at the
// point they occur).
type ChainSource struct {
	ChainID uint64
	In      <-chan Item
}

// Merger fans ChainSource inputs into a single output stream under Policy.
type Merger struct {
	policy Policy
	log    *logger.Logger

	chains  map[uint64]<-chan Item
	pending map[uint64][]Item // buffered lookahead per chain, oldest first
	closed  map[uint64]bool

	out chan Item
}

// New creates a Merger over sources under policy. outBufSize sizes the
// bounded output channel.
func New(policy Policy, sources []ChainSource, log *logger.Logger, outBufSize int) *Merger {
	m := &Merger{
		policy:  policy,
		log:     log.WithComponent("ordering-merger"),
		chains:  make(map[uint64]<-chan Item, len(sources)),
		pending: make(map[uint64][]Item, len(sources)),
		closed:  make(map[uint64]bool, len(sources)),
		out:     make(chan Item, outBufSize),
	}
	for _, s := range sources {
		m.chains[s.ChainID] = s.In
	}
	return m
}

// Out returns the merger's output channel. It is closed once Run returns.
func (m *Merger) Out() <-chan Item {
	return m.out
}

// Run drains every chain source until all are closed or ctx is cancelled,
// applying the merger's ordering policy. It closes Out() before returning.
func (m *Merger) Run(ctx context.Context) error {
	defer close(m.out)

	for {
		if m.allClosed() {
			return nil
		}

		var next Item
		var ok bool
		var err error

		switch m.policy {
		case Omnichain:
			next, _, ok, err = m.nextOmnichain(ctx)
		default:
			next, _, ok, err = m.nextMultichain(ctx)
		}
		if err != nil {
			return err
		}
		if !ok {
			// every chain closed while we were waiting; loop re-checks allClosed.
			continue
		}

		switch next.Kind {
		case ItemKindReorg:
			m.dropReorgedPending(next.ChainID, next.Reorg.Checkpoint)
			m.log.Warnf("merger forwarding reorg on chain %d at checkpoint %s", next.ChainID, next.Reorg.Checkpoint)
		case ItemKindFinalize:
			m.log.Debugf("merger forwarding finalize on chain %d at checkpoint %s", next.ChainID, next.Finalize.Checkpoint)
		}

		select {
		case m.out <- next:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// nextMultichain forwards a buffered item from any chain, with no
// cross-chain ordering. When every pending queue is empty it blocks on one
// open chain (see blockFillAny) until that chain yields an item or closes.
func (m *Merger) nextMultichain(ctx context.Context) (Item, uint64, bool, error) {
	for {
		for chainID, buf := range m.pending {
			if len(buf) > 0 {
				item := buf[0]
				m.pending[chainID] = buf[1:]
				return item, chainID, true, nil
			}
		}

		if m.allClosed() {
			return Item{}, 0, false, nil
		}

		if err := m.blockFillAny(ctx); err != nil {
			return Item{}, 0, false, err
		}
	}
}

// nextOmnichain applies the minimum-frontier rule: every open chain must
// have a buffered head before one is chosen, and the globally smallest
// checkpoint among them is emitted. Heads are filled concurrently so a slow
// chain doesn't serialize behind chains that already have data waiting.
func (m *Merger) nextOmnichain(ctx context.Context) (Item, uint64, bool, error) {
	type fillResult struct {
		chainID uint64
		item    Item
		ok      bool
	}
	results := make(chan fillResult, len(m.chains))

	g, gctx := errgroup.WithContext(ctx)
	for chainID, ch := range m.chains {
		if m.closed[chainID] || len(m.pending[chainID]) > 0 {
			continue
		}
		chainID, ch := chainID, ch
		g.Go(func() error {
			item, ok, err := receiveOne(gctx, ch)
			if err != nil {
				return err
			}
			results <- fillResult{chainID: chainID, item: item, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Item{}, 0, false, err
	}
	close(results)

	// Map writes happen here, single-threaded, after every goroutine above
	// has finished: concurrent writes to distinct keys of the same Go map
	// are still a data race, so results are applied only once merged.
	for r := range results {
		if !r.ok {
			m.closed[r.chainID] = true
			continue
		}
		m.pending[r.chainID] = append(m.pending[r.chainID], r.item)
	}

	frontier := make(frontierHeap, 0, len(m.pending))
	for chainID, buf := range m.pending {
		if len(buf) == 0 {
			continue
		}
		frontier = append(frontier, frontierEntry{chainID: chainID, checkpoint: buf[0].checkpointStr()})
	}
	if len(frontier) == 0 {
		return Item{}, 0, false, nil
	}
	heap.Init(&frontier)

	bestChain := frontier[0].chainID
	best := m.pending[bestChain][0]
	m.pending[bestChain] = m.pending[bestChain][1:]
	return best, bestChain, true, nil
}

// frontierEntry is one chain's next-to-deliver item, ordered by checkpoint
// so the minimum-frontier rule reduces to a heap peek.
type frontierEntry struct {
	chainID    uint64
	checkpoint checkpoint.Checkpoint
}

type frontierHeap []frontierEntry

func (h frontierHeap) Len() int            { return len(h) }
func (h frontierHeap) Less(i, j int) bool  { return checkpoint.Less(h[i].checkpoint, h[j].checkpoint) }
func (h frontierHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *frontierHeap) Push(x interface{}) { *h = append(*h, x.(frontierEntry)) }
func (h *frontierHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// blockFillAny takes the first open chain with an empty pending queue, in
// map iteration order, and blocks until that chain produces an item or
// closes. Other chains are not read while it waits.
func (m *Merger) blockFillAny(ctx context.Context) error {
	for chainID, ch := range m.chains {
		if m.closed[chainID] || len(m.pending[chainID]) > 0 {
			continue
		}
		return m.fillHead(ctx, chainID, ch)
	}
	return nil
}

// fillHead blocks until chainID's channel yields an item or closes, storing
// the result directly. Only called from the single-threaded multichain path;
// the omnichain path uses receiveOne to avoid concurrent map writes.
func (m *Merger) fillHead(ctx context.Context, chainID uint64, ch <-chan Item) error {
	item, ok, err := receiveOne(ctx, ch)
	if err != nil {
		return err
	}
	if !ok {
		m.closed[chainID] = true
		return nil
	}
	m.pending[chainID] = append(m.pending[chainID], item)
	return nil
}

func receiveOne(ctx context.Context, ch <-chan Item) (Item, bool, error) {
	select {
	case item, ok := <-ch:
		return item, ok, nil
	case <-ctx.Done():
		return Item{}, false, ctx.Err()
	}
}

// dropReorgedPending removes buffered events for chainID whose checkpoint
// is past the reorg's common-ancestor checkpoint: they belong to blocks
// that no longer exist on the canonical branch.
func (m *Merger) dropReorgedPending(chainID uint64, ancestor checkpoint.Checkpoint) {
	buf := m.pending[chainID]
	kept := buf[:0]
	for _, item := range buf {
		if item.Kind == ItemKindEvent && checkpoint.Less(ancestor, item.Event.Checkpoint) {
			continue
		}
		kept = append(kept, item)
	}
	m.pending[chainID] = kept
}

func (m *Merger) allClosed() bool {
	for chainID := range m.chains {
		if !m.closed[chainID] {
			return false
		}
		if len(m.pending[chainID]) > 0 {
			return false
		}
	}
	return true
}

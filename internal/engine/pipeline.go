package engine

import (
	"context"

	"github.com/ordinalworks/chainweave/internal/ingest"
	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/merge"
	"github.com/ordinalworks/chainweave/internal/model"
	"github.com/ordinalworks/chainweave/internal/syncsource"
)

// ChainFeed wires one chain's sync source adapter through the event builder
// into a merge.ChainSource: it is the C3 -> C2 -> C4 glue the merger package
// itself expects to be handed already-decoded, checkpoint-sorted Items.
type ChainFeed struct {
	ChainID uint64
	Sources []model.Source
	Adapter *syncsource.Adapter
	Builder *ingest.Builder
	Addrs   *ChildAddressSet
}

// Start launches the feeder goroutine and returns the merge.ChainSource the
// merger should fan in. The returned channel is closed when the adapter's
// output channel closes or ctx is cancelled.
func (f ChainFeed) Start(ctx context.Context, log *logger.Logger, bufSize int) merge.ChainSource {
	out := make(chan merge.Item, bufSize)
	go f.run(ctx, out, log)
	return merge.ChainSource{ChainID: f.ChainID, In: out}
}

func (f ChainFeed) run(ctx context.Context, out chan<- merge.Item, log *logger.Logger) {
	defer close(out)

	for _, ev := range f.Builder.SetupEvents(f.Sources) {
		ev := ev
		if !send(ctx, out, merge.Item{ChainID: f.ChainID, Kind: merge.ItemKindEvent, Event: &ev}) {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-f.Adapter.Out():
			if !ok {
				return
			}
			switch update.Kind {
			case syncsource.UpdateKindBlock:
				events, err := f.Builder.Build(update.Bundle, f.Sources, f.Addrs.Snapshot())
				if err != nil {
					log.Errorw("dropping block bundle: build failed", "chain", f.ChainID, "error", err)
					continue
				}
				for i := range events {
					if !send(ctx, out, merge.Item{ChainID: f.ChainID, Kind: merge.ItemKindEvent, Event: &events[i]}) {
						return
					}
				}
			case syncsource.UpdateKindReorg:
				for _, blk := range update.Reorg.ReorgedBlocks {
					for _, addr := range blk.RemovedChildAddresses {
						f.Addrs.Remove(addr)
					}
				}
				if !send(ctx, out, merge.Item{ChainID: f.ChainID, Kind: merge.ItemKindReorg, Reorg: update.Reorg}) {
					return
				}
			case syncsource.UpdateKindFinalize:
				if !send(ctx, out, merge.Item{ChainID: f.ChainID, Kind: merge.ItemKindFinalize, Finalize: update.Finalize}) {
					return
				}
			}
		}
	}
}

func send(ctx context.Context, out chan<- merge.Item, item merge.Item) bool {
	select {
	case out <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

package merge

import (
	"context"
	"testing"
	"time"

	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/model"
	"github.com/ordinalworks/chainweave/pkg/checkpoint"
	"github.com/stretchr/testify/require"
)

func evt(chainID uint64, ts, bn uint64) Item {
	return Item{
		ChainID: chainID,
		Kind:    ItemKindEvent,
		Event: &model.Event{
			ChainID:    chainID,
			Checkpoint: checkpoint.Encode(checkpoint.Fields{BlockTimestamp: ts, ChainID: chainID, BlockNumber: bn}),
		},
	}
}

func drainAll(t *testing.T, out <-chan Item, timeout time.Duration) []Item {
	t.Helper()
	var items []Item
	deadline := time.After(timeout)
	for {
		select {
		case item, ok := <-out:
			if !ok {
				return items
			}
			items = append(items, item)
		case <-deadline:
			t.Fatal("timed out draining merger output")
		}
	}
}

// TestOmnichainOrdering models scenario 3 from SPEC_FULL.md §8.
func TestOmnichainOrdering(t *testing.T) {
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	ch1 := make(chan Item, 8)
	ch2 := make(chan Item, 8)
	ch1 <- evt(1, 10, 1)
	ch1 <- evt(1, 11, 2)
	close(ch1)
	ch2 <- evt(2, 9, 1)
	close(ch2)

	m := New(Omnichain, []ChainSource{{ChainID: 1, In: ch1}, {ChainID: 2, In: ch2}}, log, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	items := drainAll(t, m.Out(), 2*time.Second)
	require.NoError(t, <-errCh)
	require.Len(t, items, 3)
	require.Equal(t, uint64(2), items[0].ChainID)
	require.Equal(t, uint64(1), items[1].ChainID)
	require.Equal(t, uint64(1), items[2].ChainID)
	require.Equal(t, uint64(10), mustDecodeTS(t, items[1].Event.Checkpoint))
	require.Equal(t, uint64(11), mustDecodeTS(t, items[2].Event.Checkpoint))
}

func mustDecodeTS(t *testing.T, c checkpoint.Checkpoint) uint64 {
	t.Helper()
	f, err := checkpoint.Decode(string(c))
	require.NoError(t, err)
	return f.BlockTimestamp
}

// TestMultichainPreservesPerChainOrderOnly checks that multichain mode never
// reorders a chain's own events but does not wait across chains.
func TestMultichainPreservesPerChainOrderOnly(t *testing.T) {
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	ch1 := make(chan Item, 8)
	ch1 <- evt(1, 5, 1)
	ch1 <- evt(1, 6, 2)
	ch1 <- evt(1, 7, 3)
	close(ch1)

	m := New(Multichain, []ChainSource{{ChainID: 1, In: ch1}}, log, 8)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	items := drainAll(t, m.Out(), time.Second)
	require.Len(t, items, 3)
	require.Equal(t, uint64(5), mustDecodeTS(t, items[0].Event.Checkpoint))
	require.Equal(t, uint64(6), mustDecodeTS(t, items[1].Event.Checkpoint))
	require.Equal(t, uint64(7), mustDecodeTS(t, items[2].Event.Checkpoint))
}

// TestDropReorgedPending exercises the reorg splice rule directly: buffered
// lookahead events with checkpoint greater than the reorg's ancestor
// checkpoint are dropped from the chain's pending queue, earlier ones kept.
func TestDropReorgedPending(t *testing.T) {
	log, err := logger.NewLogger("error", true)
	require.NoError(t, err)

	m := New(Multichain, nil, log, 8)

	ancestor := checkpoint.Encode(checkpoint.Fields{BlockTimestamp: 10, ChainID: 1, BlockNumber: 2})
	kept := evt(1, 5, 1)
	dropped := evt(1, 20, 5)
	m.pending[1] = []Item{kept, dropped}

	m.dropReorgedPending(1, ancestor)

	require.Len(t, m.pending[1], 1)
	require.Equal(t, kept.Event.Checkpoint, m.pending[1][0].Event.Checkpoint)
}

// Package chainpoller is the raw RPC transport driver that feeds a
// syncsource.Adapter: it polls an RPC endpoint for new block headers and
// their logs and turns each into a model.RawBlockBundle. Raw RPC transport
// is explicitly out of scope for the engine's core contract, but a runnable
// binary still needs one wired in front of the sync source adapter.
package chainpoller

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/model"
	"github.com/ordinalworks/chainweave/internal/syncsource"
	"github.com/ordinalworks/chainweave/pkg/rpc"
)

// DefaultPollInterval is used when the caller doesn't specify one.
const DefaultPollInterval = 4 * time.Second

// Poller polls one chain for new blocks and feeds them to adapter.
type Poller struct {
	chainID  uint64
	client   rpc.EthClient
	adapter  *syncsource.Adapter
	interval time.Duration
	log      *logger.Logger

	lastSeen uint64
}

// New creates a Poller for chainID starting after startBlock (0 starts from
// the chain's current head).
func New(chainID uint64, client rpc.EthClient, adapter *syncsource.Adapter, startBlock uint64, interval time.Duration, log *logger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		chainID:  chainID,
		client:   client,
		adapter:  adapter,
		interval: interval,
		log:      log.WithComponent("chainpoller"),
		lastSeen: startBlock,
	}
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if p.lastSeen == 0 {
		head, err := p.client.GetLatestBlockHeader(ctx)
		if err != nil {
			return err
		}
		if n := head.Number.Uint64(); n > 0 {
			p.lastSeen = n - 1
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.log.Errorw("poll failed", "chain", p.chainID, "error", err)
			}
		}
	}
}

// pollOnce fetches every block between the last one seen and the chain's
// current head, in order, feeding each to the adapter.
func (p *Poller) pollOnce(ctx context.Context) error {
	head, err := p.client.GetLatestBlockHeader(ctx)
	if err != nil {
		return err
	}
	latest := head.Number.Uint64()

	for n := p.lastSeen + 1; n <= latest; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := p.client.GetBlockHeader(ctx, n)
		if err != nil {
			return err
		}
		blockNum := big.NewInt(int64(n))
		logs, err := p.client.GetLogs(ctx, ethereum.FilterQuery{FromBlock: blockNum, ToBlock: blockNum})
		if err != nil {
			return err
		}

		bundle := &model.RawBlockBundle{ChainID: p.chainID, Block: header, Logs: logs}
		if err := p.adapter.Feed(ctx, bundle); err != nil {
			return err
		}
		p.lastSeen = n
	}
	return nil
}

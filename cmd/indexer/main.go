package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/ordinalworks/chainweave/internal/chainpoller"
	"github.com/ordinalworks/chainweave/internal/common"
	"github.com/ordinalworks/chainweave/internal/config"
	"github.com/ordinalworks/chainweave/internal/db"
	"github.com/ordinalworks/chainweave/internal/engine"
	"github.com/ordinalworks/chainweave/internal/ingest"
	"github.com/ordinalworks/chainweave/internal/logger"
	"github.com/ordinalworks/chainweave/internal/merge"
	"github.com/ordinalworks/chainweave/internal/metrics"
	"github.com/ordinalworks/chainweave/internal/model"
	"github.com/ordinalworks/chainweave/internal/reorgstore"
	"github.com/ordinalworks/chainweave/internal/rpc"
	"github.com/ordinalworks/chainweave/internal/syncsource"
	"github.com/ordinalworks/chainweave/pkg/api"
	pkgconfig "github.com/ordinalworks/chainweave/pkg/config"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║            chainweave v%s                ║
║   Checkpoint-Ordered Indexing Engine       ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "chainweave - checkpoint-ordered, reorg-aware blockchain indexing engine",
	Long: `chainweave runs one sync source adapter per configured chain, feeding a
single ordering merger and a dual-mode (historical/realtime) executor that
writes through a reorg-tracking store.`,
	Version: version,
	RunE:    runEngine,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
}

// runEngine assembles and runs the C1-C6 indexing engine: one sync source
// adapter and raw-RPC poller per configured chain, feeding a single ordering
// merger and executor, with a read-only HTTP API over the reorg store.
func runEngine(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("engine: at least one chain must be configured under 'chains'")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(common.ComponentEngine, cfg.Logging)

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}

	dbMaintenance := db.NewMaintenanceCoordinator(
		cfg.Database.Path,
		database,
		cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging),
	)
	if err := dbMaintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance coordinator: %w", err)
	}
	defer dbMaintenance.Stop()

	tables, err := compileTables(cfg.Engine.Tables)
	if err != nil {
		return fmt.Errorf("invalid engine.tables: %w", err)
	}

	store := reorgstore.New(database, tables, dbMaintenance, log, cfg.Engine.Namespace)
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to prepare reorg store schema: %w", err)
	}

	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, store, logger.NewComponentLoggerFromConfig(common.ComponentAPI, cfg.Logging))
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Errorf("API server error: %v", err)
			}
		}()
	}

	policy := merge.Multichain
	if cfg.Engine.Ordering == "omnichain" {
		policy = merge.Omnichain
	}

	g, gctx := errgroup.WithContext(ctx)
	var chainSources []merge.ChainSource
	chainAddrs := make(map[uint64]*engine.ChildAddressSet, len(cfg.Chains))

	for _, chain := range cfg.Chains {
		chain := chain
		chainLog := log.WithComponent(fmt.Sprintf("chain-%d", chain.ChainID))

		ethClient, err := rpc.NewClient(ctx, chain.RPCURL, chain.Retry)
		if err != nil {
			return fmt.Errorf("chain %d (%s): failed to create RPC client: %w", chain.ChainID, chain.Name, err)
		}
		log.Infof("connected to chain %d (%s): %s", chain.ChainID, chain.Name, chain.RPCURL)

		finalityDepth := chain.FinalityDepth
		if finalityDepth == 0 {
			finalityDepth = syncsource.DefaultFinalityDepth(chain.ChainID)
		}

		adapter := syncsource.New(chain.ChainID, finalityDepth, log, 256)
		addrs := engine.NewChildAddressSet()
		chainAddrs[chain.ChainID] = addrs

		feed := engine.ChainFeed{
			ChainID: chain.ChainID,
			Sources: compileSources(chain),
			Adapter: adapter,
			Builder: ingest.New(log),
			Addrs:   addrs,
		}
		chainSources = append(chainSources, feed.Start(gctx, log, 256))

		poller := chainpoller.New(chain.ChainID, ethClient, adapter, 0, 0, chainLog)
		g.Go(func() error { return poller.Run(gctx) })
	}

	merger := merge.New(policy, chainSources, log, 256)

	registry := engine.NewRegistry()
	indexingEngine := engine.New(
		engine.Config{Policy: policy, BatchSize: cfg.Engine.BatchSize, Namespace: cfg.Engine.Namespace},
		store,
		merger,
		registry,
		tables,
		log,
	)
	for _, chain := range cfg.Chains {
		indexingEngine.RegisterChain(chain.ChainID, chain.Name, nil, chainAddrs[chain.ChainID])
	}

	g.Go(func() error { return merger.Run(gctx) })
	g.Go(func() error { return indexingEngine.Run(gctx) })

	log.Info("starting indexing engine...")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("indexing engine failed: %w", err)
	}

	log.Info("indexing engine stopped successfully")
	return nil
}

// compileTables converts the declared table config into the engine's
// compiled reorgstore.TableSchema slice.
func compileTables(tables []pkgconfig.TableConfig) ([]reorgstore.TableSchema, error) {
	out := make([]reorgstore.TableSchema, 0, len(tables))
	for _, t := range tables {
		if t.Name == "" {
			return nil, fmt.Errorf("table missing name")
		}
		out = append(out, reorgstore.TableSchema{
			Name:       t.Name,
			Columns:    t.Columns,
			PrimaryKey: t.PrimaryKey,
		})
	}
	return out, nil
}

// compileSources converts one chain's declared SourceConfig entries into
// model.Source values the event builder understands.
func compileSources(chain pkgconfig.ChainConfig) []model.Source {
	out := make([]model.Source, 0, len(chain.Sources))
	for _, s := range chain.Sources {
		src := model.Source{
			ChainID: chain.ChainID,
			Name:    s.Name,
			Factory: s.Factory,
		}
		switch s.Kind {
		case "contract":
			src.Kind = model.SourceKindContract
			if s.Address != "" {
				src.Address = ethcommon.HexToAddress(s.Address)
			}
			for _, topic := range s.Topics {
				src.Topics = append(src.Topics, ethcommon.HexToHash(topic))
			}
		case "account":
			src.Kind = model.SourceKindAccount
			src.Account = ethcommon.HexToAddress(s.Account)
		case "block":
			src.Kind = model.SourceKindBlock
			src.Interval = s.Interval
		}
		out = append(out, src)
	}
	return out
}

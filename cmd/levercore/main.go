package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"levercore/internal/config"
	"levercore/internal/core"
	"levercore/internal/events"
	"levercore/internal/oracle"
	"levercore/internal/server"
	"levercore/internal/storage/postgres"
	"levercore/internal/vault"
)

func main() {
	root := &cobra.Command{
		Use:          "levercore",
		Short:        "Leveraged liquidity accounting core",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}

	serveCmd.Flags().String("listen", ":8080", "listen address")
	serveCmd.Flags().String("admin-cap", "", "admin capability token")
	serveCmd.Flags().Uint64("whitelist-base-fee", 100, "minimum whitelist listing fee")
	serveCmd.Flags().StringSlice("track", nil, "assets to track in the oracle feed (comma-separated)")
	serveCmd.Flags().String("events-out", "./data/events.jsonl", "audit events JSONL path")
	serveCmd.Flags().String("day-counter", "./data/liquidations.json", "liquidation day counter path")
	serveCmd.Flags().Bool("day-counter-enabled", true, "persist the liquidation day counter")
	serveCmd.Flags().String("oracle-mode", "manual", "price feed mode (manual, chain)")
	serveCmd.Flags().String("rpc", "", "RPC URL for chain oracle mode")
	serveCmd.Flags().String("aggregator", "", "price aggregator contract address")
	serveCmd.Flags().Int("max-retries", 5, "maximum oracle retry attempts")
	serveCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial oracle retry backoff")
	serveCmd.Flags().String("postgres-dsn", "", "optional Postgres DSN for pool snapshots")
	serveCmd.Flags().Duration("snapshot-interval", time.Minute, "pool snapshot interval")
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive audit events into Postgres",
		RunE:  runArchive,
	}

	archiveCmd.Flags().String("in", "", "input audit events JSONL")
	archiveCmd.Flags().String("postgres-dsn", "", "Postgres DSN")
	archiveCmd.Flags().Int("batch-size", 1000, "batch size for DB writes")
	archiveCmd.Flags().String("since", "", "re-archive from timestamp (unix seconds or RFC3339)")
	archiveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(archiveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.AdminCap == "" {
		return fmt.Errorf("admin-cap is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var feed oracle.Feed
	var manual *oracle.ManualFeed
	if cfg.OracleMode == "chain" {
		chainFeed, err := oracle.NewChainFeed(ctx, cfg.RPCURL, cfg.AggregatorAddr, cfg.MaxRetries, cfg.RetryBackoff)
		if err != nil {
			return fmt.Errorf("connect oracle: %w", err)
		}
		defer chainFeed.Close()
		feed = chainFeed
	} else {
		manual = oracle.NewManualFeed()
		feed = manual
	}
	for _, asset := range cfg.TrackedAssets {
		feed.Track(asset)
	}

	ledger := vault.NewMemoryVault()
	sink := events.MultiSink{
		events.NewZapSink(logger),
		events.NewJSONLSink(cfg.EventsOut, logger),
	}

	dayCounterPath := ""
	if cfg.DayCounterEnabled {
		dayCounterPath = cfg.DayCounter
	}
	c, err := core.New(core.Config{
		AdminCap:         cfg.AdminCap,
		WhitelistBaseFee: new(big.Int).SetUint64(cfg.WhitelistBaseFee),
		DayCounterPath:   dayCounterPath,
		Transfer:         ledger,
		Feed:             feed,
		Sink:             sink,
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	if cfg.PostgresDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer store.Close()
		go snapshotLoop(ctx, c, store, cfg.SnapshotInterval, logger)
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.New(c, manual, ledger, logger).Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serve start",
		zap.String("listen", cfg.ListenAddr),
		zap.String("oracle_mode", cfg.OracleMode),
		zap.Int("tracked_assets", len(cfg.TrackedAssets)),
		zap.String("events_out", cfg.EventsOut),
		zap.Bool("day_counter_enabled", cfg.DayCounterEnabled),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// snapshotLoop periodically captures pool and position snapshots into
// Postgres.
func snapshotLoop(ctx context.Context, c *core.Core, store *postgres.Store, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			assets := c.PoolAssets()
			rows := make([]postgres.PoolSnapshotRow, 0, len(assets))
			for _, asset := range assets {
				snap, err := c.PoolSnapshot(asset)
				if err != nil {
					continue
				}
				rows = append(rows, postgres.PoolSnapshotRow{
					Asset:          snap.Asset,
					Active:         snap.Active,
					TotalSupplied:  snap.TotalSupplied.String(),
					TotalBorrowed:  snap.TotalBorrowed.String(),
					SupplyIndex:    snap.SupplyIndex.String(),
					BorrowIndex:    snap.BorrowIndex.String(),
					Cash:           snap.Cash.String(),
					Reserves:       snap.Reserves.String(),
					UtilizationWad: snap.UtilizationWad.String(),
					BorrowRateWad:  snap.BorrowRateWad.String(),
					CapturedAt:     now.Unix(),
				})
			}
			if err := store.UpsertPoolSnapshots(ctx, rows); err != nil {
				logger.Warn("snapshot pools", zap.Error(err))
			}

			positions := c.Positions()
			posRows := make([]postgres.PositionRow, 0, len(positions))
			for _, pos := range positions {
				posRows = append(posRows, postgres.PositionRow{
					ID:          pos.ID,
					Owner:       pos.Owner,
					BaseAsset:   pos.BaseAsset,
					TargetAsset: pos.TargetAsset,
					Collateral:  pos.Collateral.String(),
					LeverageBps: pos.LeverageBps,
					RangeBps:    pos.RangeBps,
					LowerBound:  pos.LowerBound.String(),
					UpperBound:  pos.UpperBound.String(),
					Debt:        pos.Debt.String(),
					AccruedFees: pos.AccruedFees.String(),
					Status:      pos.Status.String(),
					OpenedAt:    pos.OpenedAt,
					UpdatedAt:   pos.LastUpdateTime,
				})
			}
			if err := store.UpsertPositions(ctx, posRows); err != nil {
				logger.Warn("snapshot positions", zap.Error(err))
			}
		}
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

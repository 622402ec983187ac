package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/uhyunpark/stakedex/params"
	"github.com/uhyunpark/stakedex/pkg/abci"
	"github.com/uhyunpark/stakedex/pkg/api"
	"github.com/uhyunpark/stakedex/pkg/app/exchange"
	"github.com/uhyunpark/stakedex/pkg/crypto"
	"github.com/uhyunpark/stakedex/pkg/metrics"
	"github.com/uhyunpark/stakedex/pkg/storage"
	"github.com/uhyunpark/stakedex/pkg/txgen"
	"github.com/uhyunpark/stakedex/pkg/util"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stakedex-node",
		Short:         "Single-sequencer limit order book and AMM router",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("env", "", "path of a .env file (default ./.env)")
	root.PersistentFlags().String("config", "", "path of a config file (yaml, toml or json)")
	root.AddCommand(runCmd(), snapshotsCmd())
	return root
}

// nodeFlags registers every configuration key as a flag so params.Load can
// bind them.
func nodeFlags(fs *pflag.FlagSet) {
	def := params.Default()
	fs.Uint64("price-scale", def.Exchange.PriceScale, "fixed-point price scale")
	fs.Uint64("taker-fee-bps", def.Exchange.TakerFeeBps, "taker fee on book swaps in basis points")
	fs.Uint64("protocol-fee-share-bps", def.Exchange.ProtocolFeeShareBps, "share of the taker fee sent to the fee recipient")
	fs.String("fee-recipient", "", "protocol fee recipient")
	fs.Uint64("chain-id", def.Node.ChainID, "chain id of the signing domain")
	fs.String("admin", "", "admin address")
	fs.String("data-dir", def.Node.DataDir, "directory for the database and receipt log")
	fs.String("api-addr", def.Node.APIAddr, "REST and websocket listen address")
	fs.String("log-file", def.Node.LogFile, "log file path")
	fs.String("log-level", def.Node.LogLevel, "debug, info, warn or error")
	fs.Duration("block-interval", def.Node.BlockInterval, "sequencer block interval")
	fs.Int("max-tx-bytes", def.Node.MaxTxBytes, "largest accepted action and block size")
	fs.StringSlice("cors-origins", def.Node.CORSOrigins, "allowed CORS origins")
}

func loadConfig(cmd *cobra.Command) (params.Config, error) {
	envPath, _ := cmd.Flags().GetString("env")
	cfgFile, _ := cmd.Flags().GetString("config")
	return params.Load(envPath, cfgFile, cmd.Flags())
}

func runCmd() *cobra.Command {
	var (
		keep     int
		txgenKey string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sequencer and the API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, keep, txgenKey)
		},
	}
	nodeFlags(cmd.Flags())
	cmd.Flags().IntVar(&keep, "snapshots", 16, "number of snapshots to retain")
	cmd.Flags().StringVar(&txgenKey, "txgen-key", "", "admin private key; generates load traffic when set")
	return cmd
}

func run(ctx context.Context, cfg params.Config, keep int, txgenKey string) error {
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return err
	}
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "db"), keep)
	if err != nil {
		return err
	}
	defer store.Close()
	wal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "receipts.wal"))
	if err != nil {
		return err
	}
	defer wal.Close()

	app, err := exchange.New(exchange.ConfigFrom(cfg), logger.Named("exchange"))
	if err != nil {
		return err
	}
	var snap exchange.Snapshot
	height, ok, err := store.LatestSnapshot(&snap)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if ok {
		if err := app.Restore(&snap); err != nil {
			return fmt.Errorf("restore snapshot %d: %w", height, err)
		}
		sugar.Infow("snapshot_restored", "height", height, "app_hash", snap.AppHash)
	}
	app.Store = store
	app.WAL = wal
	app.SetMetrics(metrics.Sequencer())

	server := api.NewServer(app, api.Options{
		CORSOrigins:  cfg.Node.CORSOrigins,
		MaxBodyBytes: int64(cfg.Node.MaxTxBytes),
		Metrics:      metrics.API(),
	}, logger.Named("api"))
	app.OnBlock = server.BroadcastBlock

	seq := abci.NewSequencer(app, util.RealClock{}, cfg.Node.BlockInterval, int64(cfg.Node.MaxTxBytes), app.Height(), sugar.Named("sequencer"))
	seq.Metrics = metrics.Sequencer()

	sugar.Infow("node_starting",
		"chain_id", cfg.Node.ChainID,
		"admin", cfg.Node.Admin.Hex(),
		"height", app.Height(),
		"dex", app.Contracts().Dex.Hex(),
		"router", app.Contracts().Router.Hex())

	if txgenKey != "" {
		admin, err := crypto.FromPrivateKeyHex(txgenKey)
		if err != nil {
			return fmt.Errorf("txgen key: %w", err)
		}
		if admin.Address() != cfg.Node.Admin {
			return fmt.Errorf("txgen key %s is not the admin", admin.Address().Hex())
		}
		gen, err := txgen.NewGenerator(txgen.DefaultConfig(cfg.Node.ChainID, app.Contracts().Dex, app.Contracts().Router), admin)
		if err != nil {
			return err
		}
		gen.SetNonce(admin.Address(), app.Nonce(admin.Address()))
		go txgen.Run(ctx, app, gen, logger.Named("txgen"))
	}

	errc := make(chan error, 2)
	go func() { errc <- server.Start(ctx, cfg.Node.APIAddr) }()
	go func() { errc <- seq.Run(ctx) }()

	err = <-errc
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		sugar.Infow("node_stopped", "height", app.Height())
		return nil
	}
	return err
}

func snapshotsCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List retained snapshots and the head state hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dataDir == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				dataDir = cfg.Node.DataDir
			}
			store, err := storage.NewPebbleStore(filepath.Join(dataDir, "db"), 1)
			if err != nil {
				return err
			}
			defer store.Close()

			heights, err := store.SnapshotHeights()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, h := range heights {
				fmt.Fprintln(out, h)
			}
			var snap exchange.Snapshot
			head, ok, err := store.LatestSnapshot(&snap)
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(out, "head %d %s\n", head, snap.AppHash)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "node data directory (default from config)")
	return cmd
}

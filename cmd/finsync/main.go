// finsync keeps a local SQLite copy of a user's financial aggregation data in
// step with the remote API.
//
// Usage:
//
//	finsync sync [--watch]                       # full refresh, or keep polling
//	finsync transactions [--account ...] [--id ...] [--from ...] [--to ...]
//	finsync merchants                            # walk the merchant catalogue
//	finsync tag <transaction-id> --add a,b --remove c
//	finsync status                               # config, store and row counts
//	finsync version                              # print version
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"

	"github.com/njoerd114/finsync/internal/api"
	"github.com/njoerd114/finsync/internal/config"
	"github.com/njoerd114/finsync/internal/events"
	"github.com/njoerd114/finsync/internal/store"
	finsync "github.com/njoerd114/finsync/internal/sync"
	"github.com/njoerd114/finsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	defaultCfg, _ := config.DefaultPath()

	cmd := &cobra.Command{
		Use:           "finsync",
		Short:         "Sync financial aggregation data into a local SQLite store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", defaultCfg, "path to config.yaml")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newSyncCommand(opts),
		newTransactionsCommand(opts),
		newMerchantsCommand(opts),
		newTagCommand(opts),
		newStatusCommand(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "finsync", version)
			},
		},
	)
	return cmd
}

// app is everything a sync command needs, opened in dependency order.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *store.Store
	bus       *events.Bus
	refresher *finsync.Refresher
	closers   []func()
}

// close releases resources in reverse open order.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newLogger(verbose bool) (*slog.Logger, slog.Handler) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	return slog.New(h), h
}

// openApp loads config, starts telemetry, opens the store and builds the
// Refresher. The caller must call close on the result.
func openApp(opts *rootOptions) (*app, error) {
	// --- Logger --------------------------------------------------------------

	logger, handler := newLogger(opts.verbose)
	slog.SetDefault(logger)

	// --- Config --------------------------------------------------------------

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", opts.configPath, err)
	}
	logger.Info("config loaded",
		"api_url", cfg.APIURL,
		"database_path", cfg.DatabasePath,
		"transaction_window_days", cfg.TransactionWindowDays,
	)

	a := &app{cfg: cfg}

	// --- Telemetry (optional) ------------------------------------------------

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(context.Background(), telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger = slog.New(telemetry.NewLogHandler(handler, global.GetLoggerProvider(), "finsync"))
			slog.SetDefault(logger)
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.closers = append(a.closers, func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}
	a.log = logger

	// --- Store ---------------------------------------------------------------

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening store at %q: %w", cfg.DatabasePath, err)
	}
	a.store = st
	a.closers = append(a.closers, func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	})
	logger.Info("store opened", "path", cfg.DatabasePath)

	// --- Bus, API client and refresher ---------------------------------------

	a.bus = events.NewBus(logger)
	a.bus.Subscribe(func(e events.Event) {
		if u, ok := e.(events.Updated); ok {
			logger.Debug("store updated", "type", u.Type, "op", u.Op, "rows", u.Count)
		}
	})

	client := api.New(cfg.APIURL, cfg.APIToken, cfg.RequestTimeout, logger)
	a.refresher = finsync.NewRefresher(client, st, a.bus, finsync.Options{
		TransactionPageSize:   cfg.TransactionPageSize,
		MerchantBatchSize:     cfg.MerchantBatchSize,
		MaxPages:              cfg.MaxPages,
		BackfillConcurrency:   cfg.BackfillConcurrency,
		TransactionWindowDays: cfg.TransactionWindowDays,
	}, logger)
	a.closers = append(a.closers, func() {
		a.refresher.Wait()
		a.refresher.Close()
	})

	return a, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
}

// reportMissing logs parent IDs still unresolved after a run.
func reportMissing(a *app) {
	for rel, ids := range a.refresher.Missing() {
		a.log.Warn("unresolved references remain", "relation", rel, "count", len(ids))
	}
}

// --- sync --------------------------------------------------------------------

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh every entity type once, or keep polling with --watch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			engine := finsync.NewEngine(a.refresher, a.cfg.PollInterval, a.log)
			if !watch {
				a.log.Info("running single sync pass")
				err := engine.RunOnce(ctx)
				reportMissing(a)
				return err
			}

			a.log.Info("watching", "poll_interval", a.cfg.PollInterval)
			if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("sync engine: %w", err)
			}
			a.log.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and refresh every poll_interval")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pendergraft/solcverify/internal/compiler"
	"github.com/pendergraft/solcverify/internal/config"
	"github.com/pendergraft/solcverify/internal/driver"
	"github.com/pendergraft/solcverify/internal/observability/logging"
	"github.com/pendergraft/solcverify/internal/observability/metrics"
	"github.com/pendergraft/solcverify/internal/server"
	"github.com/pendergraft/solcverify/internal/storage"
	"github.com/pendergraft/solcverify/internal/verification/domain"
	"github.com/pendergraft/solcverify/pkg/client"
)

var version = "dev"

type runFlags struct {
	configFile string
	endpoint   string
	limit      int
	startAfter int64
	noStatus   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &runFlags{}

	rootCmd := &cobra.Command{
		Use:           "solcverify-driver",
		Short:         "Drain the verification queue against a verification endpoint",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (.toml, .yaml or .yml)")

	// Default behavior (no subcommand) is to run
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runDriver(cmd.Context(), flags)
	}
	addRunFlags(rootCmd, flags)

	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newMigrateCmd(flags))

	return rootCmd
}

func newRunCmd(flags *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the batch verification driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDriver(cmd.Context(), flags)
		},
	}
	addRunFlags(cmd, flags)
	return cmd
}

func addRunFlags(cmd *cobra.Command, flags *runFlags) {
	cmd.Flags().StringVar(&flags.endpoint, "endpoint", "", "verification endpoint URL (overrides driver.endpoint)")
	cmd.Flags().IntVar(&flags.limit, "limit", -1, "stop after this many successful verifications (overrides driver.limit)")
	cmd.Flags().Int64Var(&flags.startAfter, "start-after", -1, "resume after this candidate ID (overrides driver.start_after)")
	cmd.Flags().BoolVar(&flags.noStatus, "no-status", false, "do not start the status server")
}

func newMigrateCmd(flags *runFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the queue schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			store, err := storage.New(cfg.Storage, logger)
			if err != nil {
				return fmt.Errorf("initializing storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			logger.Info("migrations applied", "storage", cfg.Storage.Type)
			return nil
		},
	}
}

func setup(flags *runFlags) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flags.configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if flags.endpoint != "" {
		cfg.Driver.Endpoint = flags.endpoint
	}
	if flags.limit >= 0 {
		cfg.Driver.Limit = flags.limit
	}
	if flags.startAfter >= 0 {
		cfg.Driver.StartAfter = flags.startAfter
	}
	if flags.noStatus {
		cfg.Status.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr), nil
}

func runDriver(parent context.Context, flags *runFlags) error {
	cfg, logger, err := setup(flags)
	if err != nil {
		return err
	}
	if cfg.Driver.Endpoint == "" {
		return errors.New("no verification endpoint: set driver.endpoint, VERIFY_ENDPOINT or --endpoint")
	}
	logger.Info("starting solcverify-driver", "version", version)

	metrics.Init(cfg.Status.MetricsEnabled, "solcverify-driver")

	// Initialize storage
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(parent); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	opts := []client.Option{client.WithTimeout(cfg.Driver.RequestTimeout)}
	if cfg.Driver.SubmitRatePerSec > 0 {
		opts = append(opts, client.WithRateLimit(cfg.Driver.SubmitRatePerSec, cfg.Driver.MaxConcurrency))
	}
	submitter := client.New(cfg.Driver.Endpoint, opts...)

	d := driver.New(cfg.Driver, store, submitter, store, logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverDone := make(chan error, 1)
	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()
	if cfg.Status.Enabled {
		invoker, _, err := compiler.New(cfg.Compiler, logger)
		if err != nil {
			return fmt.Errorf("initializing compilers: %w", err)
		}
		srv := server.New(cfg.Status, server.Deps{
			Driver:     d,
			Store:      store,
			Recompiler: domain.NewService(invoker, logger),
		}, logger)
		addr := net.JoinHostPort(cfg.Status.Host, strconv.Itoa(cfg.Status.Port))
		go func() {
			serverDone <- srv.ListenAndServe(serverCtx, addr)
		}()
	} else {
		close(serverDone)
	}

	summary, runErr := d.Run(ctx)

	stopServer()
	if err := <-serverDone; err != nil {
		logger.Error("status server error", "error", err)
	}
	if runErr != nil {
		return runErr
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

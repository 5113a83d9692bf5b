package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/solcverify/internal/chains"
	"github.com/pendergraft/solcverify/internal/chains/evm/foundry"
	"github.com/pendergraft/solcverify/internal/config"
	"github.com/pendergraft/solcverify/internal/observability/logging"
	"github.com/pendergraft/solcverify/internal/storage"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "solcverify",
		Short: "Smart contract source verification toolkit",
		Long: `solcverify provisions historical Solidity and Vyper compilers, recompiles
sources, decodes bytecode auxdata and feeds the verification queue.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.toml, .yaml or .yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json, auto)")

	// Add subcommands
	rootCmd.AddCommand(createAuxdataCmd())
	rootCmd.AddCommand(createCompilerCmd())
	rootCmd.AddCommand(createCompileCmd())
	rootCmd.AddCommand(createRecompileCmd())
	rootCmd.AddCommand(createQueueCmd())
	rootCmd.AddCommand(createSubmitCmd())
	rootCmd.AddCommand(createDiscoverCmd())
	rootCmd.AddCommand(createConfigCmd())
	rootCmd.AddCommand(createAPIKeyCmd())

	return rootCmd
}

// loadConfig loads the configuration and applies the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	switch {
	case logFormat != "":
		cfg.Logging.Format = logFormat
	case os.Getenv("LOG_FORMAT") == "":
		cfg.Logging.Format = "auto"
	}
	return cfg, nil
}

// newLogger logs to stderr so stdout stays machine-readable
func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return store, nil
}

// builders lists the supported build-tool importers
func builders() *chains.Registry {
	return chains.NewRegistry(foundry.New())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

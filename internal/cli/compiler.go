package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pendergraft/solcverify/internal/compiler"
)

func createCompilerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compiler",
		Short: "Compiler provisioning commands",
	}

	cmd.AddCommand(createCompilerPlatformCmd())
	cmd.AddCommand(createCompilerNormalizeCmd())
	cmd.AddCommand(createCompilerFetchCmd())

	return cmd
}

func createCompilerPlatformCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "platform",
		Short: "Show the native compiler channel for this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			platform, err := compiler.CurrentPlatform()
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (script target: %v)\n", platform, err)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), platform)
			return nil
		},
	}
}

func createCompilerNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize <version>",
		Short: "Print the canonical form of a compiler version",
		Long: `Print the canonical form of a compiler version.

EXAMPLES:
  solcverify compiler normalize 0.8.17
  solcverify compiler normalize 0.8.24-ci.2024.1.1+commit.abcdef12
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), compiler.NormalizeVersion(args[0]))
			return nil
		},
	}
}

func createCompilerFetchCmd() *cobra.Command {
	var language string
	var script bool

	cmd := &cobra.Command{
		Use:   "fetch <version>",
		Short: "Download and validate a compiler into the local cache",
		Long: `Download and validate a compiler into the local cache.

EXAMPLES:
  # Native solc for this host
  solcverify compiler fetch 0.8.17+commit.8df45f5f

  # Portable soljson build
  solcverify compiler fetch 0.4.11+commit.68ef5810 --script

  # Vyper
  solcverify compiler fetch 0.3.10 --language vyper
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			_, provider, err := compiler.New(cfg.Compiler, logger)
			if err != nil {
				return err
			}

			if script {
				path, err := provider.ResolveScript(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			}

			lang, err := compiler.ParseLanguage(language)
			if err != nil {
				return err
			}
			desc, err := provider.Resolve(cmd.Context(), lang, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), desc)
		},
	}

	cmd.Flags().StringVar(&language, "language", "solidity", "compiler language (solidity, vyper)")
	cmd.Flags().BoolVar(&script, "script", false, "fetch the portable script build instead of a native binary")

	return cmd
}

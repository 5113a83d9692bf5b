package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/solcverify/internal/config"
)

const defaultConfigFile = "solcverify.toml"

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var output string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file holding the defaults",
		Long: `Write a config file holding the built-in defaults.

EXAMPLES:
  solcverify config init
  solcverify config init --output /etc/solcverify.toml --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("config file already exists at %s (use --force to overwrite)", output)
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating config: %w", err)
			}
			defer f.Close()

			fmt.Fprintln(f, "# solcverify configuration")
			fmt.Fprintln(f, "# Environment variables override these values.")
			fmt.Fprintln(f)
			if err := toml.NewEncoder(f).Encode(config.Defaults()); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", defaultConfigFile, "config file to write")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the effective configuration: defaults, then the --config file,
then environment variables.

EXAMPLES:
  solcverify config show
  solcverify --config solcverify.toml config show --format yaml
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "toml":
				return toml.NewEncoder(out).Encode(cfg)
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				return printJSON(out, cfg)
			default:
				return fmt.Errorf("unknown format %q (want toml, yaml or json)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "toml", "output format (toml, yaml, json)")

	return cmd
}

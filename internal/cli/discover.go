package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/solcverify/internal/chains"
)

func createDiscoverCmd() *cobra.Command {
	var dir string
	var contracts []string
	var exclude []string
	var deps []string

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the contracts a project would enqueue",
		Long: `List the contracts a project would enqueue.

Build artifacts are read from the project's output directory. Contracts
outside src/ are listed only when named with --deps.

EXAMPLES:
  solcverify discover
  solcverify discover --exclude "Mock*" --deps TransparentUpgradeableProxy
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			builder, err := builders().Detect(dir)
			if err != nil {
				return err
			}
			paths, err := builder.Discover(dir, chains.DiscoverOptions{
				Contracts:           contracts,
				Exclude:             exclude,
				IncludeDependencies: deps,
			})
			if err != nil {
				return fmt.Errorf("discovering contracts: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(paths) == 0 {
				fmt.Fprintf(out, "No contracts found (run the %s build first)\n", builder.DisplayName())
				return nil
			}

			fmt.Fprintf(out, "%s contracts (%d):\n\n", builder.DisplayName(), len(paths))
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "  NAME\tSOURCE\tCOMPILER")
			for _, path := range paths {
				c, err := builder.Candidate(dir, path)
				if err != nil {
					fmt.Fprintf(w, "  %s\t(unreadable: %v)\t\n", path, err)
					continue
				}
				fmt.Fprintf(w, "  %s\t%s\t%s\n", c.ContractName, c.SourcePath, c.CompilerVersion)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")
	cmd.Flags().StringSliceVar(&contracts, "contracts", nil, "only these contracts")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "exclude contracts matching these patterns")
	cmd.Flags().StringSliceVar(&deps, "deps", nil, "dependency contracts outside src/ to include")

	return cmd
}

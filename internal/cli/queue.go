package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/solcverify/internal/chains"
	"github.com/pendergraft/solcverify/internal/storage"
	"github.com/pendergraft/solcverify/internal/validation"
)

func createQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the verification queue",
	}

	cmd.AddCommand(createQueueAddCmd())
	cmd.AddCommand(createQueueImportCmd())
	cmd.AddCommand(createQueueListCmd())

	return cmd
}

func createQueueAddCmd() *cobra.Command {
	var chainID string
	var address string
	var artifact string
	var dir string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue one deployed contract from a build artifact",
		Long: `Enqueue one deployed contract from a build artifact.

EXAMPLES:
  solcverify queue add --chain 1 --address 0x5FbDB2315678afecb367f032d93F642f64180aa3 \
    --artifact out/Token.sol/Token.json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if artifact == "" {
				return errors.New("--artifact is required")
			}
			if err := validateDeployment(chainID, address); err != nil {
				return err
			}

			builder, err := builders().Detect(dir)
			if err != nil {
				return err
			}
			candidate, err := builder.Candidate(dir, artifact)
			if err != nil {
				return err
			}
			candidate.ChainID = chainID
			candidate.Address = address

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.EnqueueCandidate(cmd.Context(), candidate); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued %s on chain %s as #%d\n", candidate.ContractName, chainID, candidate.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&chainID, "chain", "", "chain ID (required)")
	cmd.Flags().StringVar(&address, "address", "", "deployed address (required)")
	cmd.Flags().StringVar(&artifact, "artifact", "", "build artifact path (required)")
	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")

	return cmd
}

func createQueueImportCmd() *cobra.Command {
	var chainID string
	var addressesFile string
	var dir string
	var contracts []string
	var exclude []string

	cmd := &cobra.Command{
		Use:   "import-foundry",
		Short: "Enqueue every deployed contract of a project",
		Long: `Enqueue every deployed contract of a project.

The addresses file maps contract names to deployed addresses:

  Token: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
  Vault: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"

Discovered contracts missing from the file are skipped. Contracts that are
already queued for the chain are reported and skipped.

EXAMPLES:
  solcverify queue import-foundry --chain 1 --addresses deployments.yaml
  solcverify queue import-foundry --chain 1 --addresses deployments.yaml --exclude "Mock*"
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addressesFile == "" {
				return errors.New("--addresses is required")
			}
			if err := validation.ValidateChainID(chainID); err != nil {
				return err
			}
			addresses, err := loadAddresses(addressesFile)
			if err != nil {
				return err
			}

			builder, err := builders().Detect(dir)
			if err != nil {
				return err
			}
			paths, err := builder.Discover(dir, chains.DiscoverOptions{
				Contracts: contracts,
				Exclude:   exclude,
			})
			if err != nil {
				return fmt.Errorf("discovering contracts: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			store, err := openStore(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			var added, skipped int
			for _, path := range paths {
				candidate, err := builder.Candidate(dir, path)
				if err != nil {
					logger.Warn("skipping artifact", "path", path, "error", err)
					skipped++
					continue
				}
				address, ok := addresses[candidate.ContractName]
				if !ok {
					skipped++
					continue
				}
				candidate.ChainID = chainID
				candidate.Address = address

				err = store.EnqueueCandidate(cmd.Context(), candidate)
				switch {
				case errors.Is(err, storage.ErrCandidateExists):
					fmt.Fprintf(out, "  %s already queued\n", candidate.ContractName)
					skipped++
				case err != nil:
					return fmt.Errorf("enqueueing %s: %w", candidate.ContractName, err)
				default:
					fmt.Fprintf(out, "  %s -> #%d\n", candidate.ContractName, candidate.ID)
					added++
				}
			}
			fmt.Fprintf(out, "Enqueued %d contracts (%d skipped)\n", added, skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&chainID, "chain", "", "chain ID (required)")
	cmd.Flags().StringVar(&addressesFile, "addresses", "", "YAML file mapping contract names to addresses (required)")
	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")
	cmd.Flags().StringSliceVar(&contracts, "contracts", nil, "only these contracts")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "exclude contracts matching these patterns")

	return cmd
}

func createQueueListCmd() *cobra.Command {
	var chainID string
	var unverified bool
	var limit int
	var cursor int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg, newLogger(cfg))
			if err != nil {
				return err
			}
			defer store.Close()

			page, err := store.ListCandidates(cmd.Context(),
				storage.CandidateFilter{ChainID: chainID, Unverified: unverified},
				storage.PaginationParams{Limit: limit, Cursor: cursor})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(page.Data) == 0 {
				fmt.Fprintln(out, "No candidates found")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHAIN\tADDRESS\tCONTRACT\tCOMPILER")
			for _, c := range page.Data {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.ID, c.ChainID, c.Address, c.ContractName, c.CompilerVersion)
			}
			w.Flush()
			if page.HasMore {
				fmt.Fprintf(out, "\nMore results: --cursor %d\n", page.NextCursor)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&chainID, "chain", "", "filter by chain ID")
	cmd.Flags().BoolVar(&unverified, "unverified", false, "only candidates without a successful outcome")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "list candidates after this ID")

	return cmd
}

func validateDeployment(chainID, address string) error {
	if err := validation.ValidateChainID(chainID); err != nil {
		return err
	}
	return validation.ValidateAddress(address)
}

// loadAddresses reads a name->address YAML map and validates every address.
func loadAddresses(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading addresses: %w", err)
	}
	var addresses map[string]string
	if err := yaml.Unmarshal(data, &addresses); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	names := make([]string, 0, len(addresses))
	for name := range addresses {
		names = append(names, name)
	}
	sort.Strings(names)
	var errs []error
	for _, name := range names {
		if err := validation.ValidateAddress(addresses[name]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return addresses, nil
}

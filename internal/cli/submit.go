package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pendergraft/solcverify/pkg/client"
)

func createSubmitCmd() *cobra.Command {
	var chainID string
	var address string
	var artifact string
	var dir string
	var endpoint string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one contract directly to the verification endpoint",
		Long: `Submit one contract directly to the verification endpoint, bypassing the queue.

The endpoint defaults to driver.endpoint from the configuration.

EXAMPLES:
  solcverify submit --chain 1 --address 0x5FbDB2315678afecb367f032d93F642f64180aa3 \
    --artifact out/Token.sol/Token.json --endpoint http://localhost:5555/verify
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if artifact == "" {
				return errors.New("--artifact is required")
			}
			if err := validateDeployment(chainID, address); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if endpoint == "" {
				endpoint = cfg.Driver.Endpoint
			}
			if endpoint == "" {
				return errors.New("no endpoint: pass --endpoint or set driver.endpoint")
			}

			builder, err := builders().Detect(dir)
			if err != nil {
				return err
			}
			candidate, err := builder.Candidate(dir, filepath.Clean(artifact))
			if err != nil {
				return err
			}
			candidate.ChainID = chainID
			candidate.Address = address

			c := client.New(endpoint, client.WithTimeout(cfg.Driver.RequestTimeout))
			sub, err := c.Verify(cmd.Context(), client.VerifyRequest{
				Address: candidate.Address,
				Chain:   candidate.ChainID,
				Files:   candidate.Files(),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if sub.AlreadyVerified {
				fmt.Fprintf(out, "%s was already verified (%s)\n", candidate.ContractName, sub.Status)
				return nil
			}
			fmt.Fprintf(out, "%s verified: %s\n", candidate.ContractName, sub.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&chainID, "chain", "", "chain ID (required)")
	cmd.Flags().StringVar(&address, "address", "", "deployed address (required)")
	cmd.Flags().StringVar(&artifact, "artifact", "", "build artifact path (required)")
	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "verification endpoint URL")

	return cmd
}

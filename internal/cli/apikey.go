package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pendergraft/solcverify/internal/auth"
)

func createAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Status server API key commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate a key for the status server's /recompile route",
		Long: `Generate a key for the status server's /recompile route.

Add the key to status.api_keys or STATUS_API_KEYS and send it as
X-API-Key or as an Authorization bearer token.

EXAMPLES:
  solcverify apikey generate
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := auth.GenerateAPIKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	})

	return cmd
}

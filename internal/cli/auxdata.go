package cli

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pendergraft/solcverify/internal/chains/evm"
)

func createAuxdataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auxdata",
		Short: "Inspect the metadata trailer of EVM bytecode",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "split <hex>",
		Short: "Split bytecode into execution code, auxdata and length prefix",
		Long: `Split bytecode into execution code, auxdata and length prefix.

Bytecode without a recognizable trailer is returned whole as execution code.

EXAMPLES:
  solcverify auxdata split 0x6080...0033
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(args[0], "0x"), "0X"))
			if err != nil {
				return fmt.Errorf("%w: %v", evm.ErrInvalidHex, err)
			}
			seg := evm.SplitAuxdata(raw)

			out := map[string]any{
				"execution": "0x" + hex.EncodeToString(seg.Execution),
				"auxdata":   nil,
			}
			if seg.HasAuxdata() {
				out["auxdata"] = "0x" + hex.EncodeToString(seg.Auxdata)
				out["lengthPrefix"] = "0x" + hex.EncodeToString(seg.LengthPrefix)
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "decode <0x-hex>",
		Short: "Decode the auxdata trailer of 0x-prefixed bytecode",
		Long: `Decode the auxdata trailer of 0x-prefixed bytecode.

Prints the metadata reference (ipfs CID or swarm hash), the embedded
compiler version and any other trailer fields. Fails when the bytecode
carries no trailer.

EXAMPLES:
  solcverify auxdata decode 0x6080...a264697066735822...0033
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decoded, err := evm.DecodeAuxdata(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), decoded)
		},
	})

	return cmd
}

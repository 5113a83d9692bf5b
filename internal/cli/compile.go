package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pendergraft/solcverify/internal/chains/evm/foundry"
	"github.com/pendergraft/solcverify/internal/compiler"
	"github.com/pendergraft/solcverify/internal/verification/domain"
)

func createCompileCmd() *cobra.Command {
	var version string
	var inputFile string
	var language string

	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Run a standard-JSON compilation with a pinned compiler",
		Long: `Run a standard-JSON compilation with a pinned compiler version.

The compiler is provisioned on first use. The compiler's standard-JSON
output is printed to stdout.

EXAMPLES:
  solcverify compile --version 0.8.17+commit.8df45f5f --input input.json
  solcverify compile --version 0.3.10 --language vyper --input input.json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if version == "" {
				return errors.New("--version is required")
			}
			input, err := readInput(inputFile)
			if err != nil {
				return err
			}
			lang, err := compiler.ParseLanguage(language)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			invoker, _, err := compiler.New(cfg.Compiler, newLogger(cfg))
			if err != nil {
				return err
			}

			result, err := invoker.CompileJSON(cmd.Context(), lang, version, input)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "compiler version (required)")
	cmd.Flags().StringVar(&inputFile, "input", "-", "standard-JSON input file, - for stdin")
	cmd.Flags().StringVar(&language, "language", "solidity", "compiler language (solidity, vyper)")

	return cmd
}

func createRecompileCmd() *cobra.Command {
	var version string
	var inputFile string
	var deployed string
	var target string
	var artifact string
	var dir string

	cmd := &cobra.Command{
		Use:   "recompile",
		Short: "Recompile sources and cross-check auxdata against deployed bytecode",
		Long: `Recompile sources and cross-check auxdata against deployed bytecode.

Either pass a standard-JSON input with --input and --version, or a Foundry
artifact with --artifact, in which case the compilation is rebuilt from
the artifact's metadata document.

EXAMPLES:
  # Standard-JSON input, cross-checked against on-chain runtime code
  solcverify recompile --version 0.8.17+commit.8df45f5f --input input.json \
    --target src/Token.sol:Token --deployed 0x6080...

  # Foundry artifact, cross-checked against its own deployed bytecode
  solcverify recompile --artifact out/Token.sol/Token.json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if artifact == "" && version == "" {
				return errors.New("--version is required unless --artifact is given")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			invoker, _, err := compiler.New(cfg.Compiler, logger)
			if err != nil {
				return err
			}
			svc := domain.NewService(invoker, logger)

			if artifact != "" {
				candidate, err := foundry.New().Candidate(dir, artifact)
				if err != nil {
					return err
				}
				if deployed == "" {
					if deployed, err = foundry.DeployedBytecode(artifact); err != nil {
						return err
					}
				}
				result, err := svc.RecompileCandidate(cmd.Context(), candidate, deployed)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}

			data, err := readInput(inputFile)
			if err != nil {
				return err
			}
			var input compiler.CompilationRequest
			if err := json.Unmarshal(data, &input); err != nil {
				return fmt.Errorf("%w: %v", compiler.ErrInvalidRequest, err)
			}
			path, name, err := splitTarget(target)
			if err != nil {
				return err
			}

			result, err := svc.Recompile(cmd.Context(), domain.RecompileRequest{
				CompilerVersion:  version,
				Input:            &input,
				TargetPath:       path,
				TargetName:       name,
				DeployedBytecode: deployed,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "compiler version")
	cmd.Flags().StringVar(&inputFile, "input", "-", "standard-JSON input file, - for stdin")
	cmd.Flags().StringVar(&deployed, "deployed", "", "0x-prefixed deployed runtime bytecode")
	cmd.Flags().StringVar(&target, "target", "", "target contract as path:Name")
	cmd.Flags().StringVar(&artifact, "artifact", "", "Foundry artifact to recompile")
	cmd.Flags().StringVar(&dir, "dir", ".", "Foundry project directory for --artifact")

	return cmd
}

func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return data, nil
}

// splitTarget parses "path:Name". Source paths may themselves contain
// colons, so the last one separates the name.
func splitTarget(target string) (path, name string, err error) {
	if target == "" {
		return "", "", nil
	}
	i := strings.LastIndex(target, ":")
	if i <= 0 || i == len(target)-1 {
		return "", "", fmt.Errorf("invalid target %q (want path:Name)", target)
	}
	return target[:i], target[i+1:], nil
}

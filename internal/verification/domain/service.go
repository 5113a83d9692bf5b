package domain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/pendergraft/solcverify/internal/chains"
	"github.com/pendergraft/solcverify/internal/chains/evm"
	"github.com/pendergraft/solcverify/internal/compiler"
	"github.com/pendergraft/solcverify/internal/validation"
)

// Common errors returned by the verification service.
var (
	ErrInvalidRequest  = errors.New("invalid recompile request")
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidChainID  = errors.New("invalid chain ID")
	ErrInvalidVersion  = errors.New("invalid compiler version")
	ErrTargetNotFound  = errors.New("target contract not in compiler output")
	ErrTargetAmbiguous = errors.New("several contracts produced runtime bytecode; name a target")
)

// Compiler defines the compiler operations needed by the verification domain.
type Compiler interface {
	Compile(ctx context.Context, version string, req *compiler.CompilationRequest) (*compiler.CompilationResult, error)
}

type service struct {
	compiler Compiler
	logger   *slog.Logger
}

// NewService creates a new verification service.
func NewService(c Compiler, logger *slog.Logger) *service {
	return &service{
		compiler: c,
		logger:   logger,
	}
}

// Recompile compiles the request and decodes the auxdata of every
// produced contract. When DeployedBytecode is set the target contract is
// cross-checked against it.
func (s *service) Recompile(ctx context.Context, req RecompileRequest) (*RecompileResult, error) {
	if err := validation.ValidateCompilerVersion(req.CompilerVersion); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	if req.Input == nil || len(req.Input.Sources) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrInvalidRequest)
	}
	if req.DeployedBytecode != "" {
		if _, err := decodeHex(req.DeployedBytecode); err != nil {
			return nil, fmt.Errorf("%w: deployed bytecode: %v", ErrInvalidRequest, err)
		}
	}

	output, err := s.compiler.Compile(ctx, req.CompilerVersion, req.Input)
	if err != nil {
		return nil, err
	}

	result := &RecompileResult{
		CompilerVersion: req.CompilerVersion,
		Diagnostics:     output.Errors,
	}

	paths := make([]string, 0, len(output.Contracts))
	for path := range output.Contracts {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		names := make([]string, 0, len(output.Contracts[path]))
		for name := range output.Contracts[path] {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			result.Contracts = append(result.Contracts, recompiled(path, name, output.Contracts[path][name]))
		}
	}

	if req.DeployedBytecode == "" {
		return result, nil
	}

	target, err := pickTarget(result, req.TargetPath, req.TargetName)
	if err != nil {
		return nil, err
	}
	result.Target = target

	check, err := CrossCheckBytecode(target.DeployedBytecode, req.DeployedBytecode)
	if err != nil {
		return nil, fmt.Errorf("cross-checking %s:%s: %w", target.Path, target.Name, err)
	}
	result.CrossCheck = check

	s.logger.Debug("recompiled",
		"version", req.CompilerVersion,
		"target", target.Path+":"+target.Name,
		"cross_check", check.Status,
		"execution_match", check.ExecutionMatch,
	)
	return result, nil
}

// RecompileCandidate rebuilds a candidate's compilation from its metadata
// document and recompiles it. deployed may be empty.
func (s *service) RecompileCandidate(ctx context.Context, c *chains.Candidate, deployed string) (*RecompileResult, error) {
	if c.Address != "" {
		if err := validation.ValidateAddress(c.Address); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
	}
	if c.ChainID != "" {
		if err := validation.ValidateChainID(c.ChainID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidChainID, err)
		}
	}
	if len(c.Metadata) == 0 {
		return nil, fmt.Errorf("%w: candidate has no metadata document", ErrInvalidRequest)
	}

	metadata, err := evm.ParseMetadata(c.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	input, err := metadata.CompilationRequest(c.Sources)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	version := c.CompilerVersion
	if version == "" {
		version = metadata.Compiler.Version
	}
	path, name := metadata.Target()

	return s.Recompile(ctx, RecompileRequest{
		CompilerVersion:  version,
		Input:            input,
		TargetPath:       path,
		TargetName:       name,
		DeployedBytecode: deployed,
	})
}

func recompiled(path, name string, c compiler.CompiledContract) RecompiledContract {
	rc := RecompiledContract{
		Path:             path,
		Name:             name,
		CreationBytecode: c.CreationBytecode(),
		DeployedBytecode: c.DeployedBytecode(),
	}
	if rc.DeployedBytecode == "" || rc.DeployedBytecode == "0x" {
		return rc
	}

	decoded, err := evm.DecodeAuxdata(rc.DeployedBytecode)
	switch {
	case err == nil:
		rc.Auxdata = decoded
	case errors.Is(err, evm.ErrAuxdataNotFound):
		// compiled with appendCBOR=false or by a compiler predating auxdata
	default:
		rc.AuxdataError = err.Error()
	}
	return rc
}

func pickTarget(result *RecompileResult, path, name string) (*RecompiledContract, error) {
	if name != "" {
		for i := range result.Contracts {
			c := &result.Contracts[i]
			if c.Name == name && (path == "" || c.Path == path) {
				return c, nil
			}
		}
		return nil, fmt.Errorf("%w: %s:%s", ErrTargetNotFound, path, name)
	}

	var found *RecompiledContract
	for i := range result.Contracts {
		c := &result.Contracts[i]
		if c.DeployedBytecode == "" || c.DeployedBytecode == "0x" {
			continue
		}
		if found != nil {
			return nil, ErrTargetAmbiguous
		}
		found = c
	}
	if found == nil {
		return nil, ErrTargetNotFound
	}
	return found, nil
}

// CrossCheckBytecode compares the metadata references embedded in two
// 0x-prefixed runtime bytecodes.
func CrossCheckBytecode(recompiledHex, deployedHex string) (*CrossCheck, error) {
	deployedRaw, err := decodeHex(deployedHex)
	if err != nil {
		return nil, fmt.Errorf("deployed bytecode: %w", err)
	}
	recompiledRaw, err := decodeHex(recompiledHex)
	if err != nil {
		return nil, fmt.Errorf("recompiled bytecode: %w", err)
	}

	check := &CrossCheck{
		ExecutionMatch: bytes.Equal(evm.StripMetadata(recompiledRaw), evm.StripMetadata(deployedRaw)),
	}

	expected, expectedErr := evm.DecodeAuxdata(recompiledHex)
	actual, actualErr := evm.DecodeAuxdata(deployedHex)
	if expectedErr != nil || actualErr != nil {
		check.Status = CrossCheckAbsent
		check.Message = "metadata reference missing from " + missingSide(expectedErr, actualErr)
		return check, nil
	}

	expScheme, expHash, expRefErr := expected.Reference()
	actScheme, actHash, actRefErr := actual.Reference()
	if expRefErr != nil || actRefErr != nil {
		check.Status = CrossCheckAbsent
		check.Message = "metadata reference missing from " + missingSide(expRefErr, actRefErr)
		return check, nil
	}

	check.Scheme = actScheme
	check.Expected = expHash
	check.Actual = actHash
	if expScheme == actScheme && expHash == actHash {
		check.Status = CrossCheckMatch
		check.Message = fmt.Sprintf("%s metadata reference matches", actScheme)
	} else {
		check.Status = CrossCheckMismatch
		check.Message = fmt.Sprintf("metadata reference differs: recompiled %s:%s, deployed %s:%s", expScheme, expHash, actScheme, actHash)
	}
	return check, nil
}

func missingSide(recompiledErr, deployedErr error) string {
	switch {
	case recompiledErr != nil && deployedErr != nil:
		return "both bytecodes"
	case recompiledErr != nil:
		return "recompiled bytecode"
	default:
		return "deployed bytecode"
	}
}

const zeroAddress = "0000000000000000000000000000000000000000"

// libraryPlaceholder matches an unlinked library reference, either the
// __$<34 hex>$__ form or the legacy __<padded name>__ form. Both are 40
// characters, the width of the address they stand for.
var libraryPlaceholder = regexp.MustCompile(`__.{36}__`)

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, evm.ErrMissingHexPrefix
	}
	body := libraryPlaceholder.ReplaceAllLiteralString(s[2:], zeroAddress)
	b, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", evm.ErrInvalidHex, err)
	}
	return b, nil
}

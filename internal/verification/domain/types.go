// Package domain contains the business logic for contract verification.
package domain

import (
	"github.com/pendergraft/solcverify/internal/chains/evm"
	"github.com/pendergraft/solcverify/internal/compiler"
)

// RecompileRequest is the request to recompile sources.
type RecompileRequest struct {
	CompilerVersion string                       `json:"compilerVersion"`
	Input           *compiler.CompilationRequest `json:"input"`
	// TargetPath and TargetName pick the contract compared against
	// DeployedBytecode. Both may be empty when the build produces exactly
	// one contract with runtime bytecode.
	TargetPath       string `json:"targetPath,omitempty"`
	TargetName       string `json:"targetName,omitempty"`
	DeployedBytecode string `json:"deployedBytecode,omitempty"`
}

// RecompiledContract is one contract of a recompilation.
type RecompiledContract struct {
	Path             string               `json:"path"`
	Name             string               `json:"name"`
	CreationBytecode string               `json:"creationBytecode,omitempty"`
	DeployedBytecode string               `json:"deployedBytecode,omitempty"`
	Auxdata          *evm.DecodedMetadata `json:"auxdata,omitempty"`
	AuxdataError     string               `json:"auxdataError,omitempty"`
}

// CrossCheckStatus compares the metadata references of two bytecodes.
type CrossCheckStatus string

// Cross-check outcomes.
const (
	CrossCheckMatch    CrossCheckStatus = "match"
	CrossCheckMismatch CrossCheckStatus = "mismatch"
	// CrossCheckAbsent means at least one side embeds no metadata
	// reference.
	CrossCheckAbsent CrossCheckStatus = "absent"
)

// CrossCheck is the comparison of recompiled and deployed bytecode. It
// reports facts only; what they amount to is decided by the caller.
type CrossCheck struct {
	Status   CrossCheckStatus    `json:"status"`
	Scheme   evm.ReferenceScheme `json:"scheme,omitempty"`
	Expected string              `json:"expected,omitempty"`
	Actual   string              `json:"actual,omitempty"`
	// ExecutionMatch reports whether the bytecodes are identical once
	// their auxdata trailers are removed.
	ExecutionMatch bool   `json:"executionMatch"`
	Message        string `json:"message"`
}

// RecompileResult is the result of a recompilation.
type RecompileResult struct {
	CompilerVersion string                `json:"compilerVersion"`
	Contracts       []RecompiledContract  `json:"contracts"`
	Diagnostics     []compiler.Diagnostic `json:"diagnostics,omitempty"`
	Target          *RecompiledContract   `json:"target,omitempty"`
	CrossCheck      *CrossCheck           `json:"crossCheck,omitempty"`
}

// Contract looks up a recompiled contract by path and name.
func (r *RecompileResult) Contract(path, name string) (*RecompiledContract, bool) {
	for i := range r.Contracts {
		if r.Contracts[i].Path == path && r.Contracts[i].Name == name {
			return &r.Contracts[i], true
		}
	}
	return nil, false
}

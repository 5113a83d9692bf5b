// Package transport provides HTTP request/response types for the verification domain.
package transport

import (
	"encoding/json"

	"github.com/pendergraft/solcverify/internal/compiler"
	"github.com/pendergraft/solcverify/internal/verification/domain"
)

// RecompileRequest is the HTTP request body for a recompilation. Input
// is a standard-JSON compiler input.
type RecompileRequest struct {
	CompilerVersion  string          `json:"compilerVersion"`
	Input            json.RawMessage `json:"input"`
	TargetPath       string          `json:"targetPath,omitempty"`
	TargetName       string          `json:"targetName,omitempty"`
	DeployedBytecode string          `json:"deployedBytecode,omitempty"`
}

// ToDomain converts RecompileRequest to domain.RecompileRequest.
func (r RecompileRequest) ToDomain() (domain.RecompileRequest, error) {
	var input compiler.CompilationRequest
	if err := json.Unmarshal(r.Input, &input); err != nil {
		return domain.RecompileRequest{}, err
	}
	return domain.RecompileRequest{
		CompilerVersion:  r.CompilerVersion,
		Input:            &input,
		TargetPath:       r.TargetPath,
		TargetName:       r.TargetName,
		DeployedBytecode: r.DeployedBytecode,
	}, nil
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code        string                `json:"code"`
	Message     string                `json:"message"`
	Diagnostics []compiler.Diagnostic `json:"diagnostics,omitempty"`
}

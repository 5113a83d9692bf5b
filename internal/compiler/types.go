// Package compiler provisions historical Solidity and Vyper compilers and
// runs them against standard-JSON compilation requests.
package compiler

import (
	"encoding/json"
	"strings"
)

// Language is the source language of a compilation request.
type Language string

// Supported languages.
const (
	Solidity Language = "Solidity"
	Vyper    Language = "Vyper"
)

// ParseLanguage maps a standard-JSON language field to a Language.
// An empty value means Solidity.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(s) {
	case "", "solidity":
		return Solidity, nil
	case "vyper":
		return Vyper, nil
	default:
		return "", ErrUnsupportedLanguage
	}
}

// Descriptor identifies a provisioned compiler on disk.
type Descriptor struct {
	Language  Language `json:"language"`
	Version   string   `json:"version"`
	Platform  Platform `json:"platform"`
	LocalPath string   `json:"localPath"`
	Validated bool     `json:"validated"`
}

// Source is one entry of a standard-JSON sources map.
type Source struct {
	Content string   `json:"content,omitempty"`
	URLs    []string `json:"urls,omitempty"`
}

// CompilationRequest is a standard-JSON compiler input. Settings is kept
// as an open map since its accepted keys differ across compiler versions.
type CompilationRequest struct {
	Language string            `json:"language"`
	Sources  map[string]Source `json:"sources"`
	Settings map[string]any    `json:"settings,omitempty"`
}

// OptimizerEnabled reads settings.optimizer.enabled.
func (r *CompilationRequest) OptimizerEnabled() bool {
	opt, ok := r.Settings["optimizer"].(map[string]any)
	if !ok {
		return false
	}
	enabled, _ := opt["enabled"].(bool)
	return enabled
}

// Diagnostic is one entry of the standard-JSON errors array.
type Diagnostic struct {
	Severity         string          `json:"severity"`
	Type             string          `json:"type,omitempty"`
	Component        string          `json:"component,omitempty"`
	Message          string          `json:"message"`
	FormattedMessage string          `json:"formattedMessage,omitempty"`
	SourceLocation   json.RawMessage `json:"sourceLocation,omitempty"`
}

// IsError reports whether the diagnostic aborts compilation.
func (d Diagnostic) IsError() bool {
	return d.Severity == "error"
}

// Text prefers the formatted message.
func (d Diagnostic) Text() string {
	if d.FormattedMessage != "" {
		return strings.TrimSpace(d.FormattedMessage)
	}
	return d.Message
}

// BytecodeOutput is evm.bytecode or evm.deployedBytecode.
type BytecodeOutput struct {
	Object              string          `json:"object"`
	SourceMap           string          `json:"sourceMap,omitempty"`
	LinkReferences      json.RawMessage `json:"linkReferences,omitempty"`
	ImmutableReferences json.RawMessage `json:"immutableReferences,omitempty"`
}

// EVMOutput is the evm section of a compiled contract.
type EVMOutput struct {
	Bytecode         *BytecodeOutput `json:"bytecode,omitempty"`
	DeployedBytecode *BytecodeOutput `json:"deployedBytecode,omitempty"`
}

// CompiledContract is contracts[path][name] of the standard-JSON output.
// Every field is optional; which ones are present depends on the compiler
// version and the requested output selection.
type CompiledContract struct {
	ABI      json.RawMessage `json:"abi,omitempty"`
	Metadata string          `json:"metadata,omitempty"`
	EVM      *EVMOutput      `json:"evm,omitempty"`
}

// DeployedBytecode returns the 0x-prefixed runtime bytecode, or "" when
// the compiler did not emit one.
func (c CompiledContract) DeployedBytecode() string {
	if c.EVM == nil || c.EVM.DeployedBytecode == nil || c.EVM.DeployedBytecode.Object == "" {
		return ""
	}
	return ensureHexPrefix(c.EVM.DeployedBytecode.Object)
}

// CreationBytecode returns the 0x-prefixed creation bytecode, or "".
func (c CompiledContract) CreationBytecode() string {
	if c.EVM == nil || c.EVM.Bytecode == nil || c.EVM.Bytecode.Object == "" {
		return ""
	}
	return ensureHexPrefix(c.EVM.Bytecode.Object)
}

// CompilationResult is a standard-JSON compiler output.
type CompilationResult struct {
	Contracts map[string]map[string]CompiledContract `json:"contracts,omitempty"`
	Errors    []Diagnostic                           `json:"errors,omitempty"`
	Sources   map[string]json.RawMessage             `json:"sources,omitempty"`
}

// Contract looks up contracts[path][name].
func (r *CompilationResult) Contract(path, name string) (CompiledContract, bool) {
	byName, ok := r.Contracts[path]
	if !ok {
		return CompiledContract{}, false
	}
	c, ok := byName[name]
	return c, ok
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}

// Package foundry reads Foundry build output into verification candidates.
package foundry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pendergraft/solcverify/internal/chains"
	"github.com/pendergraft/solcverify/internal/chains/evm"
)

// ErrNoBytecode marks interfaces and abstract contracts.
var ErrNoBytecode = errors.New("contract has no bytecode (likely an interface)")

// Builder implements chains.Builder for Foundry projects
type Builder struct{}

// New creates a new Foundry builder
func New() *Builder {
	return &Builder{}
}

// Name returns the builder identifier
func (b *Builder) Name() string {
	return "foundry"
}

// DisplayName returns a human-readable name
func (b *Builder) DisplayName() string {
	return "Foundry"
}

// ConfigFile returns the config file name
func (b *Builder) ConfigFile() string {
	return "foundry.toml"
}

// Detect checks if a directory is a Foundry project
func (b *Builder) Detect(dir string) (bool, error) {
	_, err := os.Stat(filepath.Join(dir, b.ConfigFile()))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Discover finds the artifacts of deployable contracts in a Foundry
// project. Only contracts under src/ are returned unless listed in
// opts.IncludeDependencies.
func (b *Builder) Discover(dir string, opts chains.DiscoverOptions) ([]string, error) {
	outDir := filepath.Join(dir, "out")
	if _, err := os.Stat(outDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("out directory not found - run 'forge build' first")
	}

	var artifacts []string
	seen := make(map[string]bool)

	err := filepath.Walk(outDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(info.Name(), ".json") {
			return nil
		}

		// out/{Source}.sol/{Contract}.json
		if !strings.HasSuffix(filepath.Dir(path), ".sol") {
			return nil
		}

		contractName := strings.TrimSuffix(info.Name(), ".json")
		if seen[contractName] || !included(contractName, opts) {
			return nil
		}

		artifact, metadata, err := readArtifact(path)
		if err != nil {
			return nil // Skip artifacts we can't read
		}
		if !artifact.hasBytecode() {
			return nil
		}

		sourcePath, _ := metadata.Target()
		for _, pattern := range opts.ExcludePaths {
			if strings.Contains(sourcePath, pattern) {
				return nil
			}
			if matched, _ := filepath.Match(pattern, sourcePath); matched {
				return nil
			}
		}
		if !strings.HasPrefix(sourcePath, "src/") && !isIncludedDependency(contractName, opts.IncludeDependencies) {
			return nil
		}

		seen[contractName] = true
		artifacts = append(artifacts, path)
		return nil
	})

	return artifacts, err
}

func included(contractName string, opts chains.DiscoverOptions) bool {
	if len(opts.Contracts) > 0 {
		found := false
		for _, c := range opts.Contracts {
			if c == contractName {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for _, pattern := range opts.Exclude {
		// "Test" matches "MyContractTest", "Mock" matches "MockToken"
		if strings.HasSuffix(contractName, pattern) || strings.HasPrefix(contractName, pattern) {
			return false
		}
		if matched, _ := filepath.Match(pattern, contractName); matched {
			return false
		}
	}
	return true
}

// isIncludedDependency checks if a contract name matches any dependency (case-insensitive)
func isIncludedDependency(name string, deps []string) bool {
	for _, d := range deps {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// Candidate builds a verification candidate from an artifact and the
// project's source files. ChainID and Address are left for the caller.
func (b *Builder) Candidate(dir, artifactPath string) (*chains.Candidate, error) {
	artifact, metadata, err := readArtifact(artifactPath)
	if err != nil {
		return nil, err
	}
	if !artifact.hasBytecode() {
		return nil, ErrNoBytecode
	}

	sources := make(map[string]string, len(metadata.Sources))
	for srcPath, src := range metadata.Sources {
		content, err := os.ReadFile(filepath.Join(dir, srcPath))
		switch {
		case err == nil:
			sources[srcPath] = string(content)
		case src.Content != "":
			sources[srcPath] = src.Content
		default:
			return nil, fmt.Errorf("reading source %s: %w", srcPath, err)
		}
	}

	var doc struct {
		Settings json.RawMessage `json:"settings"`
	}
	_ = json.Unmarshal([]byte(artifact.RawMetadata), &doc)

	sourcePath, name := metadata.Target()
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(artifactPath), ".json")
	}
	lang := metadata.Language
	if lang == "" {
		lang = "Solidity"
	}

	return &chains.Candidate{
		ContractName:    name,
		SourcePath:      sourcePath,
		Language:        lang,
		CompilerVersion: metadata.Compiler.Version,
		Sources:         sources,
		Settings:        doc.Settings,
		Metadata:        json.RawMessage(artifact.RawMetadata),
	}, nil
}

// DeployedBytecode returns the artifact's 0x-prefixed runtime bytecode.
func DeployedBytecode(artifactPath string) (string, error) {
	artifact, _, err := readArtifact(artifactPath)
	if err != nil {
		return "", err
	}
	obj := artifact.DeployedBytecode.Object
	if obj == "" || obj == "0x" {
		return "", ErrNoBytecode
	}
	if !strings.HasPrefix(obj, "0x") {
		obj = "0x" + obj
	}
	return obj, nil
}

func readArtifact(artifactPath string) (*Artifact, *evm.Metadata, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return nil, nil, fmt.Errorf("reading artifact: %w", err)
	}

	var raw Artifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parsing artifact JSON: %w", err)
	}
	if raw.RawMetadata == "" {
		return nil, nil, fmt.Errorf("artifact has no rawMetadata - build with metadata enabled")
	}

	metadata, err := evm.ParseMetadata([]byte(raw.RawMetadata))
	if err != nil {
		return nil, nil, err
	}
	return &raw, metadata, nil
}

// Artifact represents the structure of a Foundry artifact JSON file
type Artifact struct {
	ABI              json.RawMessage `json:"abi"`
	Bytecode         BytecodeObject  `json:"bytecode"`
	DeployedBytecode BytecodeObject  `json:"deployedBytecode"`
	RawMetadata      string          `json:"rawMetadata"`
}

func (a *Artifact) hasBytecode() bool {
	return a.Bytecode.Object != "" && a.Bytecode.Object != "0x"
}

// BytecodeObject represents bytecode in a Foundry artifact
type BytecodeObject struct {
	Object         string                       `json:"object"`
	SourceMap      string                       `json:"sourceMap"`
	LinkReferences map[string]map[string][]Link `json:"linkReferences"`
}

// Link represents a library link reference
type Link struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

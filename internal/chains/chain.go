// Package chains defines verification candidates and the build-tool
// importers that produce them.
package chains

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Candidate is one deployed contract waiting to be verified.
type Candidate struct {
	// ID is the queue cursor; zero until the candidate is enqueued.
	ID              int64             `json:"id,omitempty"`
	ChainID         string            `json:"chainId"`
	Address         string            `json:"address"`
	ContractName    string            `json:"contractName,omitempty"`
	SourcePath      string            `json:"sourcePath,omitempty"`
	Language        string            `json:"language,omitempty"`
	CompilerVersion string            `json:"compilerVersion,omitempty"`
	Sources         map[string]string `json:"sources"`
	// Settings are the compiler settings the contract was built with.
	Settings json.RawMessage `json:"settings,omitempty"`
	// Metadata is the compiler's metadata document, verbatim.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Files returns the path->content map submitted to a verification
// endpoint. The metadata document travels as metadata.json.
func (c *Candidate) Files() map[string]string {
	files := make(map[string]string, len(c.Sources)+1)
	for path, content := range c.Sources {
		files[path] = content
	}
	if len(c.Metadata) > 0 {
		files["metadata.json"] = string(c.Metadata)
	}
	return files
}

// Builder reads a build tool's output into candidates
type Builder interface {
	// Metadata
	Name() string        // "foundry"
	DisplayName() string // "Foundry"

	// Detection
	Detect(dir string) (bool, error)
	ConfigFile() string // "foundry.toml"

	// Artifact handling
	Discover(dir string, opts DiscoverOptions) ([]string, error)
	Candidate(dir, artifactPath string) (*Candidate, error)
}

// DiscoverOptions configures artifact discovery
type DiscoverOptions struct {
	// Contracts to include (empty = all)
	Contracts []string
	// Patterns to exclude (e.g., "Test*", "Mock*")
	Exclude []string
	// Source path patterns to exclude
	ExcludePaths []string
	// Dependency contracts (outside src/) to include
	IncludeDependencies []string
}

// Registry holds the known build-tool importers
type Registry struct {
	builders map[string]Builder
}

// NewRegistry creates a registry holding builders
func NewRegistry(builders ...Builder) *Registry {
	r := &Registry{builders: make(map[string]Builder)}
	for _, b := range builders {
		r.Register(b)
	}
	return r
}

// Register adds a builder to the registry
func (r *Registry) Register(b Builder) {
	r.builders[b.Name()] = b
}

// Get retrieves a builder by name
func (r *Registry) Get(name string) (Builder, bool) {
	b, ok := r.builders[name]
	return b, ok
}

// List returns all registered builders sorted by name
func (r *Registry) List() []Builder {
	builders := make([]Builder, 0, len(r.builders))
	for _, b := range r.builders {
		builders = append(builders, b)
	}
	sort.Slice(builders, func(i, j int) bool { return builders[i].Name() < builders[j].Name() })
	return builders
}

// Detect returns the builder used by the project in dir
func (r *Registry) Detect(dir string) (Builder, error) {
	for _, b := range r.List() {
		detected, err := b.Detect(dir)
		if err != nil {
			continue
		}
		if detected {
			return b, nil
		}
	}
	return nil, fmt.Errorf("no supported builder detected in %s", dir)
}

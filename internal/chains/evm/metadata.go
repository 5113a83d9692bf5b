package evm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pendergraft/solcverify/internal/compiler"
)

// ErrMissingSource is returned when a metadata document names a source
// that was not supplied.
var ErrMissingSource = errors.New("source listed in metadata is missing")

// Metadata is the compiler's metadata document, the JSON file whose hash
// the auxdata trailer carries.
type Metadata struct {
	Compiler MetadataCompiler          `json:"compiler"`
	Language string                    `json:"language"`
	Output   MetadataOutput            `json:"output"`
	Settings MetadataSettings          `json:"settings"`
	Sources  map[string]MetadataSource `json:"sources"`
	Version  int                       `json:"version"`
}

// MetadataCompiler contains compiler information
type MetadataCompiler struct {
	Version   string `json:"version"`
	Keccak256 string `json:"keccak256,omitempty"`
}

// MetadataOutput contains output information
type MetadataOutput struct {
	ABI     json.RawMessage `json:"abi"`
	Devdoc  json.RawMessage `json:"devdoc"`
	Userdoc json.RawMessage `json:"userdoc"`
}

// MetadataSettings contains compiler settings
type MetadataSettings struct {
	CompilationTarget map[string]string `json:"compilationTarget"`
	EVMVersion        string            `json:"evmVersion,omitempty"`
	// Libraries maps "path:Name" (or a bare name) to an address.
	Libraries  map[string]string     `json:"libraries,omitempty"`
	Metadata   *MetadataHashSettings `json:"metadata,omitempty"`
	Optimizer  OptimizerSettings     `json:"optimizer"`
	Remappings []string              `json:"remappings,omitempty"`
	ViaIR      bool                  `json:"viaIR,omitempty"`
}

// MetadataHashSettings controls what the compiler appends to bytecode
type MetadataHashSettings struct {
	BytecodeHash      string `json:"bytecodeHash,omitempty"`      // default "ipfs"
	UseLiteralContent bool   `json:"useLiteralContent,omitempty"` // some projects set true
	AppendCBOR        *bool  `json:"appendCBOR,omitempty"`
}

// OptimizerSettings contains optimizer settings
type OptimizerSettings struct {
	Enabled bool            `json:"enabled"`
	Runs    int             `json:"runs"`
	Details json.RawMessage `json:"details,omitempty"`
}

// MetadataSource contains individual source file info
type MetadataSource struct {
	Keccak256 string   `json:"keccak256"`
	License   string   `json:"license,omitempty"`
	URLs      []string `json:"urls,omitempty"`
	Content   string   `json:"content,omitempty"`
}

// ParseMetadata parses a metadata document.
func ParseMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing metadata: %w", err)
	}
	if m.Compiler.Version == "" {
		return nil, errors.New("metadata has no compiler version")
	}
	if len(m.Sources) == 0 {
		return nil, errors.New("metadata has no sources")
	}
	return &m, nil
}

// Target returns the source path and contract name the document was
// produced for.
func (m *Metadata) Target() (path, name string) {
	for p, n := range m.Settings.CompilationTarget {
		return p, n
	}
	return "", ""
}

// FirstLicense returns the first license found in sources
func (m *Metadata) FirstLicense() string {
	paths := make([]string, 0, len(m.Sources))
	for p := range m.Sources {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if l := m.Sources[p].License; l != "" {
			return l
		}
	}
	return ""
}

// outputSelectionForVerification requests what recompilation compares.
func outputSelectionForVerification() map[string]any {
	return map[string]any{
		"*": map[string]any{"*": []any{"abi", "evm.bytecode", "evm.deployedBytecode", "metadata"}},
	}
}

// CompilationRequest rebuilds the standard-JSON input that reproduces the
// document's build. sources supplies file content by path; content
// embedded in the document is used for paths missing from it.
func (m *Metadata) CompilationRequest(sources map[string]string) (*compiler.CompilationRequest, error) {
	req := &compiler.CompilationRequest{
		Language: m.Language,
		Sources:  make(map[string]compiler.Source, len(m.Sources)),
	}
	if req.Language == "" {
		req.Language = string(compiler.Solidity)
	}

	for path, src := range m.Sources {
		content, ok := sources[path]
		if !ok {
			content = src.Content
		}
		if content == "" && !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSource, path)
		}
		req.Sources[path] = compiler.Source{Content: content}
	}

	optimizer := map[string]any{
		"enabled": m.Settings.Optimizer.Enabled,
		"runs":    m.Settings.Optimizer.Runs,
	}
	if len(m.Settings.Optimizer.Details) > 0 {
		var details any
		if err := json.Unmarshal(m.Settings.Optimizer.Details, &details); err == nil {
			optimizer["details"] = details
		}
	}

	settings := map[string]any{
		"optimizer":       optimizer,
		"outputSelection": outputSelectionForVerification(),
	}
	// Omit evmVersion when empty so the compiler uses its version-appropriate default
	if m.Settings.EVMVersion != "" {
		settings["evmVersion"] = m.Settings.EVMVersion
	}
	if m.Settings.ViaIR {
		settings["viaIR"] = true
	}
	if len(m.Settings.Remappings) > 0 {
		settings["remappings"] = m.Settings.Remappings
	}
	if libs := m.nestedLibraries(); len(libs) > 0 {
		settings["libraries"] = libs
	}
	if mh := m.Settings.Metadata; mh != nil {
		meta := map[string]any{}
		if mh.BytecodeHash != "" {
			meta["bytecodeHash"] = mh.BytecodeHash
		}
		if mh.UseLiteralContent {
			meta["useLiteralContent"] = true
		}
		if mh.AppendCBOR != nil {
			meta["appendCBOR"] = *mh.AppendCBOR
		}
		if len(meta) > 0 {
			settings["metadata"] = meta
		}
	}
	req.Settings = settings
	return req, nil
}

// nestedLibraries converts the document's flat "path:Name" library map
// into the standard-JSON path -> name -> address form.
func (m *Metadata) nestedLibraries() map[string]any {
	if len(m.Settings.Libraries) == 0 {
		return nil
	}
	out := make(map[string]any)
	for key, addr := range m.Settings.Libraries {
		path, name := "", key
		if i := strings.LastIndex(key, ":"); i >= 0 {
			path, name = key[:i], key[i+1:]
		}
		byName, _ := out[path].(map[string]any)
		if byName == nil {
			byName = make(map[string]any)
			out[path] = byName
		}
		byName[name] = addr
	}
	return out
}

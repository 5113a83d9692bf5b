package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/pendergraft/solcverify/internal/observability/metrics"
)

// DefaultMaxOutputBytes caps what a native compiler may write to stdout.
const DefaultMaxOutputBytes = 250 << 20

// ErrMalformedOutput is returned when compiler output is not a
// standard-JSON result.
var ErrMalformedOutput = errors.New("compiler output is not standard JSON")

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	MaxOutputBytes int64
	// ForceScript skips native builds for Solidity.
	ForceScript bool
}

// Invoker runs compilation requests on provisioned compilers.
type Invoker struct {
	provider *Provider
	scripts  *ScriptCompiler
	cfg      InvokerConfig
	logger   *slog.Logger
}

// NewInvoker creates an Invoker. scripts may be nil, in which case
// Solidity requests never fall back to the script target.
func NewInvoker(provider *Provider, scripts *ScriptCompiler, cfg InvokerConfig, logger *slog.Logger) *Invoker {
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	return &Invoker{provider: provider, scripts: scripts, cfg: cfg, logger: logger}
}

// Compile serializes req and compiles it with the given compiler version.
func (c *Invoker) Compile(ctx context.Context, version string, req *CompilationRequest) (*CompilationResult, error) {
	lang, err := ParseLanguage(req.Language)
	if err != nil {
		return nil, err
	}
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return c.CompileJSON(ctx, lang, version, input)
}

// CompileJSON compiles an already serialized standard-JSON request.
//
// A result is only returned when the compiler reported no error
// diagnostics; otherwise the error is a *CompilerError holding every
// diagnostic.
func (c *Invoker) CompileJSON(ctx context.Context, lang Language, version string, input []byte) (*CompilationResult, error) {
	if !json.Valid(input) {
		return nil, ErrInvalidRequest
	}

	start := time.Now()
	out, target, err := c.run(ctx, lang, version, input)
	var result *CompilationResult
	if err == nil {
		result, err = ParseOutput(out)
	}
	metrics.CompilerInvocation(string(lang), target, invocationStatus(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func invocationStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCompilerError):
		return "compiler_error"
	case errors.Is(err, ErrOutputTooLarge):
		return "too_large"
	case errors.Is(err, ErrNoOutput):
		return "no_output"
	default:
		return "failed"
	}
}

// run returns the raw output and which target produced it.
func (c *Invoker) run(ctx context.Context, lang Language, version string, input []byte) ([]byte, string, error) {
	if lang == Vyper || !c.cfg.ForceScript {
		desc, err := c.provider.Resolve(ctx, lang, version)
		if err == nil {
			out, err := c.runNative(ctx, desc, input)
			if err == nil || lang != Solidity || !c.canFallBack(err) {
				return out, "native", err
			}
			c.logger.Warn("native compiler failed, retrying with script target", "version", version, "error", err)
		} else {
			if lang != Solidity || !c.canFallBack(err) {
				return nil, "native", err
			}
			c.logger.Debug("no native compiler, using script target", "version", version, "reason", err)
		}
	}

	if c.scripts == nil {
		return nil, "script", fmt.Errorf("%w: script target is disabled", ErrUnsupportedPlatform)
	}
	path, err := c.provider.ResolveScript(ctx, version)
	if err != nil {
		return nil, "script", err
	}
	out, err := c.scripts.Compile(ctx, path, version, input)
	return out, "script", err
}

// canFallBack reports whether a native failure says nothing about the
// sources, so the same request can be retried on the script target.
func (c *Invoker) canFallBack(err error) bool {
	if c.scripts == nil {
		return false
	}
	// A missing, unreachable or broken native build is covered by soljson.
	return errors.Is(err, ErrUnsupportedPlatform) ||
		errors.Is(err, ErrCompilerProcess) ||
		errors.Is(err, ErrDownloadFailure) ||
		errors.Is(err, ErrCorruptBinary)
}

// runNative pipes input to "<compiler> --standard-json". The compiler is
// started directly, never through a shell.
func (c *Invoker) runNative(ctx context.Context, desc *Descriptor, input []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, desc.LocalPath, "--standard-json")
	cmd.Stdin = bytes.NewReader(input)

	stdout := &cappedBuffer{limit: c.cfg.MaxOutputBytes}
	stderr := &cappedBuffer{limit: c.cfg.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()

	if stdout.overflow {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrOutputTooLarge, c.cfg.MaxOutputBytes)
	}
	if stderr.buf.Len() > 0 || stderr.overflow {
		return nil, &ProcessError{Path: desc.LocalPath, Stderr: stderr.buf.String(), Err: runErr}
	}
	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ProcessError{Path: desc.LocalPath, Err: runErr}
	}
	return stdout.buf.Bytes(), nil
}

// cappedBuffer keeps at most limit bytes. Once exceeded it drops what it
// holds and discards everything after, so a runaway compiler cannot grow
// memory without bound.
type cappedBuffer struct {
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.overflow {
		return len(p), nil
	}
	if int64(b.buf.Len())+int64(len(p)) > b.limit {
		b.overflow = true
		b.buf = bytes.Buffer{}
		return len(p), nil
	}
	return b.buf.Write(p)
}

// ParseOutput validates raw compiler output. It must be a JSON object
// holding a contracts tree or an errors array; any diagnostic with
// severity "error" fails the whole compilation.
func ParseOutput(out []byte) (*CompilationResult, error) {
	if len(bytes.TrimSpace(out)) == 0 {
		return nil, ErrNoOutput
	}

	var probe struct {
		Contracts json.RawMessage `json:"contracts"`
		Errors    json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if probe.Contracts == nil && probe.Errors == nil {
		return nil, fmt.Errorf("%w: neither contracts nor errors present", ErrMalformedOutput)
	}

	var result CompilationResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	for _, d := range result.Errors {
		if d.IsError() {
			return nil, &CompilerError{Diagnostics: result.Errors}
		}
	}
	return &result, nil
}

package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"
)

// compileFunc takes standard-JSON input and returns standard-JSON output.
type compileFunc func(input []byte) ([]byte, error)

// scriptRuntime is a loaded soljson module. goja runtimes are not safe for
// concurrent use, so calls are serialized.
type scriptRuntime struct {
	mu      sync.Mutex
	compile compileFunc
}

// ScriptCompiler runs emscripten builds of solc (soljson) in goja.
//
// Builds from 0.4.0 on keep one runtime per build and reuse it. Older
// builds keep mutable state in global tables that carries over from one
// compile call to the next, so every call to them gets a runtime of its
// own that is discarded afterwards.
type ScriptCompiler struct {
	logger   *slog.Logger
	programs *lru.Cache[string, *goja.Program]
	runtimes *lru.Cache[string, *scriptRuntime]
	loadMu   sync.Mutex
}

// NewScriptCompiler creates a ScriptCompiler caching up to size compiled
// modules and runtimes.
func NewScriptCompiler(size int, logger *slog.Logger) (*ScriptCompiler, error) {
	if size <= 0 {
		size = 8
	}
	programs, err := lru.New[string, *goja.Program](size)
	if err != nil {
		return nil, fmt.Errorf("creating program cache: %w", err)
	}
	runtimes, err := lru.New[string, *scriptRuntime](size)
	if err != nil {
		return nil, fmt.Errorf("creating runtime cache: %w", err)
	}
	return &ScriptCompiler{logger: logger, programs: programs, runtimes: runtimes}, nil
}

// Compile runs the soljson module at path against standard-JSON input.
func (s *ScriptCompiler) Compile(ctx context.Context, path, version string, input []byte) ([]byte, error) {
	if NeedsIsolation(version) {
		return s.compileIsolated(ctx, path, input)
	}

	rt, err := s.runtime(path)
	if err != nil {
		return nil, err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.compile(input)
}

type isolatedResult struct {
	output []byte
	err    error
}

// compileIsolated runs one compile call in a runtime created for it. The
// runtime gets its own copy of the input, hands back exactly one result
// and is dropped.
func (s *ScriptCompiler) compileIsolated(ctx context.Context, path string, input []byte) ([]byte, error) {
	prog, err := s.program(path)
	if err != nil {
		return nil, err
	}

	startup := append([]byte(nil), input...)
	vm := goja.New()
	done := make(chan isolatedResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- isolatedResult{err: fmt.Errorf("script compiler panicked: %v", r)}
			}
		}()
		compile, err := s.load(vm, prog)
		if err != nil {
			done <- isolatedResult{err: err}
			return
		}
		out, err := compile(startup)
		done <- isolatedResult{output: out, err: err}
	}()

	select {
	case res := <-done:
		return res.output, res.err
	case <-ctx.Done():
		vm.Interrupt(ctx.Err())
		<-done
		return nil, ctx.Err()
	}
}

func (s *ScriptCompiler) runtime(path string) (*scriptRuntime, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if rt, ok := s.runtimes.Get(path); ok {
		return rt, nil
	}

	prog, err := s.programLocked(path)
	if err != nil {
		return nil, err
	}
	compile, err := s.load(goja.New(), prog)
	if err != nil {
		return nil, err
	}
	rt := &scriptRuntime{compile: compile}
	s.runtimes.Add(path, rt)
	return rt, nil
}

func (s *ScriptCompiler) program(path string) (*goja.Program, error) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	return s.programLocked(path)
}

func (s *ScriptCompiler) programLocked(path string) (*goja.Program, error) {
	if prog, ok := s.programs.Get(path); ok {
		return prog, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script compiler: %w", err)
	}
	prog, err := goja.Compile(path, string(src), false)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrCorruptBinary, path, err)
	}
	s.programs.Add(path, prog)
	return prog, nil
}

// load initializes the emscripten module in vm and picks the newest
// compile entry point it exports.
func (s *ScriptCompiler) load(vm *goja.Runtime, prog *goja.Program) (compileFunc, error) {
	s.installShims(vm)

	if _, err := vm.RunProgram(prog); err != nil {
		return nil, fmt.Errorf("initializing script compiler: %w", err)
	}

	module := vm.Get("Module")
	if module == nil || goja.IsUndefined(module) || goja.IsNull(module) {
		return nil, errors.New("script compiler does not define Module")
	}
	obj := module.ToObject(vm)

	cwrap, ok := goja.AssertFunction(obj.Get("cwrap"))
	if !ok {
		return nil, errors.New("script compiler Module has no cwrap")
	}

	wrap := func(name, ret string, args ...any) (goja.Callable, bool) {
		exported := obj.Get("_" + name)
		if exported == nil || goja.IsUndefined(exported) {
			return nil, false
		}
		fn, err := cwrap(goja.Undefined(), vm.ToValue(name), vm.ToValue(ret), vm.NewArray(args...))
		if err != nil {
			return nil, false
		}
		return goja.AssertFunction(fn)
	}

	call := func(fn goja.Callable, args ...any) (string, error) {
		values := make([]goja.Value, len(args))
		for i, a := range args {
			values[i] = vm.ToValue(a)
		}
		out, err := fn(goja.Undefined(), values...)
		if err != nil {
			return "", fmt.Errorf("script compiler: %w", err)
		}
		return out.String(), nil
	}

	reset, hasReset := wrap("solidity_reset", "")

	if fn, ok := wrap("solidity_compile", "string", "string", "number", "number"); ok {
		return func(input []byte) ([]byte, error) {
			out, err := call(fn, string(input), 0, 0)
			if hasReset {
				_, _ = reset(goja.Undefined())
			}
			return []byte(out), err
		}, nil
	}

	if fn, ok := wrap("compileStandard", "string", "string", "number"); ok {
		return func(input []byte) ([]byte, error) {
			out, err := call(fn, string(input), 0)
			return []byte(out), err
		}, nil
	}

	if fn, ok := wrap("compileJSONMulti", "string", "string", "number"); ok {
		return func(input []byte) ([]byte, error) {
			return compileLegacy(input, func(sources map[string]string, optimize bool) (string, error) {
				legacyIn, err := json.Marshal(map[string]any{"sources": sources})
				if err != nil {
					return "", err
				}
				return call(fn, string(legacyIn), boolToInt(optimize))
			})
		}, nil
	}

	if fn, ok := wrap("compileJSON", "string", "string", "number"); ok {
		return func(input []byte) ([]byte, error) {
			return compileLegacy(input, func(sources map[string]string, optimize bool) (string, error) {
				if len(sources) != 1 {
					return "", fmt.Errorf("%w: this compiler accepts exactly one source file, got %d", ErrInvalidRequest, len(sources))
				}
				for _, content := range sources {
					return call(fn, content, boolToInt(optimize))
				}
				return "", nil
			})
		}, nil
	}

	return nil, errors.New("script compiler exports no known compile entry point")
}

// installShims gives the emscripten shell environment somewhere to print.
func (s *ScriptCompiler) installShims(vm *goja.Runtime) {
	logTo := func(level slog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			s.logger.Log(context.Background(), level, "script compiler output", "text", strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	_ = vm.Set("print", logTo(slog.LevelDebug))
	_ = vm.Set("printErr", logTo(slog.LevelWarn))
	console := vm.NewObject()
	_ = console.Set("log", logTo(slog.LevelDebug))
	_ = console.Set("warn", logTo(slog.LevelWarn))
	_ = console.Set("error", logTo(slog.LevelWarn))
	_ = vm.Set("console", console)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// legacyContract is one contract of the pre-standard-JSON output.
type legacyContract struct {
	Bytecode        string `json:"bytecode"`
	RuntimeBytecode string `json:"runtimeBytecode"`
	Interface       string `json:"interface"`
	Metadata        string `json:"metadata"`
}

type legacyOutput struct {
	Contracts map[string]legacyContract `json:"contracts"`
	Errors    []string                  `json:"errors"`
}

// compileLegacy adapts a legacy entry point to standard JSON in and out.
func compileLegacy(input []byte, run func(sources map[string]string, optimize bool) (string, error)) ([]byte, error) {
	var req CompilationRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	sources := make(map[string]string, len(req.Sources))
	defaultPath := ""
	for path, src := range req.Sources {
		sources[path] = src.Content
		defaultPath = path
	}
	if len(sources) != 1 {
		defaultPath = ""
	}

	raw, err := run(sources, req.OptimizerEnabled())
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var legacy legacyOutput
	if err := json.Unmarshal([]byte(raw), &legacy); err != nil {
		return nil, fmt.Errorf("parsing legacy compiler output: %w", err)
	}

	result := CompilationResult{
		Contracts: make(map[string]map[string]CompiledContract),
	}
	for key, c := range legacy.Contracts {
		path, name := defaultPath, key
		if i := strings.LastIndex(key, ":"); i >= 0 {
			path, name = key[:i], key[i+1:]
		}
		contract := CompiledContract{
			Metadata: c.Metadata,
			EVM: &EVMOutput{
				Bytecode:         &BytecodeOutput{Object: c.Bytecode},
				DeployedBytecode: &BytecodeOutput{Object: c.RuntimeBytecode},
			},
		}
		if json.Valid([]byte(c.Interface)) {
			contract.ABI = json.RawMessage(c.Interface)
		}
		if result.Contracts[path] == nil {
			result.Contracts[path] = make(map[string]CompiledContract)
		}
		result.Contracts[path][name] = contract
	}
	for _, msg := range legacy.Errors {
		severity, kind := "error", "Error"
		if strings.Contains(msg, "Warning:") {
			severity, kind = "warning", "Warning"
		}
		result.Errors = append(result.Errors, Diagnostic{
			Severity:         severity,
			Type:             kind,
			Component:        "general",
			Message:          msg,
			FormattedMessage: msg,
		})
	}

	return json.Marshal(result)
}

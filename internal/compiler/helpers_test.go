package compiler

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// skipWithoutShell skips tests that run fake compilers as shell scripts.
func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compilers are shell scripts")
	}
}

// fakeCompiler returns a shell script that answers --version and runs
// body for everything else.
func fakeCompiler(body string) string {
	return "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then echo \"solc, the solidity compiler\"; exit 0; fi\n" + body + "\n"
}

// installNative places a fake native solc in dir the way the provider
// would have saved it.
func installNative(t *testing.T, dir, version, body string) string {
	t.Helper()
	path := filepath.Join(dir, solcFileName(PlatformLinuxAmd64, version))
	require.NoError(t, os.WriteFile(path, []byte(fakeCompiler(body)), 0o755))
	return path
}

// installScript places a soljson module in dir.
func installScript(t *testing.T, dir, version, src string) string {
	t.Helper()
	path := filepath.Join(dir, soljsonFileName(version))
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

// standardModule exports solidity_compile. Any source named Broken.sol
// produces a parser error.
const standardModule = `
var Module = {
  _solidity_compile: function (input) {
    var req = JSON.parse(input);
    if (req.sources["Broken.sol"]) {
      return JSON.stringify({ errors: [
        { severity: "warning", type: "Warning", message: "SPDX license identifier not provided" },
        { severity: "error", type: "ParserError", message: "Expected ';'", formattedMessage: "ParserError: Expected ';'" }
      ] });
    }
    var contracts = {};
    for (var path in req.sources) {
      contracts[path] = { Counter: { abi: [], evm: {
        bytecode: { object: "6080604052" },
        deployedBytecode: { object: "6080604052348015" }
      } } };
    }
    return JSON.stringify({ contracts: contracts });
  },
  cwrap: function (name) {
    var fn = Module["_" + name];
    return function () { return fn.apply(null, arguments); };
  }
};
`

// legacyModule exports compileJSONMulti and, like early compilers, keeps
// a global that changes every compile call.
const legacyModule = `
var compiled = 0;
var Module = {
  _compileJSONMulti: function (input, optimize) {
    compiled++;
    var req = JSON.parse(input);
    var contracts = {};
    for (var path in req.sources) {
      contracts[path + ":Counter"] = {
        bytecode: "6060" + compiled,
        runtimeBytecode: "60606040" + compiled + optimize,
        interface: "[{\"type\":\"fallback\"}]"
      };
    }
    return JSON.stringify({ contracts: contracts, errors: [":1:1: Warning: unused variable"] });
  },
  cwrap: function (name) {
    var fn = Module["_" + name];
    return function () { return fn.apply(null, arguments); };
  }
};
`

func counterRequest(path string) *CompilationRequest {
	return &CompilationRequest{
		Language: "Solidity",
		Sources: map[string]Source{
			path: {Content: "contract Counter { uint256 public count; }"},
		},
		Settings: map[string]any{
			"optimizer": map[string]any{"enabled": true, "runs": 200},
		},
	}
}

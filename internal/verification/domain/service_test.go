package domain

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/solcverify/internal/chains"
	"github.com/pendergraft/solcverify/internal/compiler"
)

const (
	execution   = "6080604052348015600f57600080fd5b50"
	ipfsTrailer = "a2646970667358221220dceca8706b29e917dacf25fceef95acac8d90d765ac926663ce4096195952b6164736f6c6343000811" + "0033"
	// same trailer with the last hash byte changed
	otherTrailer = "a2646970667358221220dceca8706b29e917dacf25fceef95acac8d90d765ac926663ce4096195952b6264736f6c6343000811" + "0033"
)

// mockCompiler implements Compiler for testing
type mockCompiler struct {
	result   *compiler.CompilationResult
	err      error
	versions []string
	requests []*compiler.CompilationRequest
}

func (m *mockCompiler) Compile(ctx context.Context, version string, req *compiler.CompilationRequest) (*compiler.CompilationResult, error) {
	m.versions = append(m.versions, version)
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func contractWith(deployed string) compiler.CompiledContract {
	return compiler.CompiledContract{
		EVM: &compiler.EVMOutput{
			Bytecode:         &compiler.BytecodeOutput{Object: "60806040"},
			DeployedBytecode: &compiler.BytecodeOutput{Object: deployed},
		},
	}
}

func counterOutput() *compiler.CompilationResult {
	return &compiler.CompilationResult{
		Contracts: map[string]map[string]compiler.CompiledContract{
			"src/Counter.sol":  {"Counter": contractWith(execution + ipfsTrailer)},
			"src/ICounter.sol": {"ICounter": {}},
		},
		Errors: []compiler.Diagnostic{{Severity: "warning", Message: "unused"}},
	}
}

func counterInput() *compiler.CompilationRequest {
	return &compiler.CompilationRequest{
		Language: "Solidity",
		Sources:  map[string]compiler.Source{"src/Counter.sol": {Content: "contract Counter {}"}},
	}
}

func TestRecompile_DecodesAuxdata(t *testing.T) {
	svc := NewService(&mockCompiler{result: counterOutput()}, testLogger())

	result, err := svc.Recompile(context.Background(), RecompileRequest{
		CompilerVersion: "0.8.17+commit.8df45f5f",
		Input:           counterInput(),
	})
	require.NoError(t, err)

	require.Len(t, result.Contracts, 2)
	counter, ok := result.Contract("src/Counter.sol", "Counter")
	require.True(t, ok)
	require.NotNil(t, counter.Auxdata)
	assert.Equal(t, "QmdD3hpMj6mEFVy9DP4QqjHaoeYbhKsYvApX1YZNfjTVWp", counter.Auxdata.Hash)
	assert.Equal(t, "0.8.17", counter.Auxdata.SolcVersion)

	iface, ok := result.Contract("src/ICounter.sol", "ICounter")
	require.True(t, ok)
	assert.Nil(t, iface.Auxdata)
	assert.Len(t, result.Diagnostics, 1)
	assert.Nil(t, result.CrossCheck)
}

func TestRecompile_CrossCheck(t *testing.T) {
	tests := []struct {
		name          string
		deployed      string
		wantStatus    CrossCheckStatus
		wantExecution bool
	}{
		{"match", "0x" + execution + ipfsTrailer, CrossCheckMatch, true},
		{"mismatch", "0x" + execution + otherTrailer, CrossCheckMismatch, true},
		{"absent", "0x" + execution, CrossCheckAbsent, true},
		{"different code", "0x6080604052" + ipfsTrailer, CrossCheckMatch, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(&mockCompiler{result: counterOutput()}, testLogger())

			result, err := svc.Recompile(context.Background(), RecompileRequest{
				CompilerVersion:  "0.8.17",
				Input:            counterInput(),
				DeployedBytecode: tt.deployed,
			})
			require.NoError(t, err)
			require.NotNil(t, result.CrossCheck)
			assert.Equal(t, tt.wantStatus, result.CrossCheck.Status)
			assert.Equal(t, tt.wantExecution, result.CrossCheck.ExecutionMatch)
			assert.Equal(t, "Counter", result.Target.Name)
		})
	}
}

func TestRecompile_Errors(t *testing.T) {
	t.Run("invalid version", func(t *testing.T) {
		svc := NewService(&mockCompiler{}, testLogger())
		_, err := svc.Recompile(context.Background(), RecompileRequest{CompilerVersion: "eight", Input: counterInput()})
		assert.ErrorIs(t, err, ErrInvalidVersion)
	})

	t.Run("no sources", func(t *testing.T) {
		svc := NewService(&mockCompiler{}, testLogger())
		_, err := svc.Recompile(context.Background(), RecompileRequest{CompilerVersion: "0.8.17"})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("compiler error passes through", func(t *testing.T) {
		compileErr := &compiler.CompilerError{Diagnostics: []compiler.Diagnostic{{Severity: "error", Message: "bad"}}}
		svc := NewService(&mockCompiler{err: compileErr}, testLogger())
		_, err := svc.Recompile(context.Background(), RecompileRequest{CompilerVersion: "0.8.17", Input: counterInput()})
		assert.ErrorIs(t, err, compiler.ErrCompilerError)
	})

	t.Run("unknown target", func(t *testing.T) {
		svc := NewService(&mockCompiler{result: counterOutput()}, testLogger())
		_, err := svc.Recompile(context.Background(), RecompileRequest{
			CompilerVersion:  "0.8.17",
			Input:            counterInput(),
			TargetName:       "Missing",
			DeployedBytecode: "0x" + execution,
		})
		assert.ErrorIs(t, err, ErrTargetNotFound)
	})

	t.Run("ambiguous target", func(t *testing.T) {
		output := counterOutput()
		output.Contracts["src/Other.sol"] = map[string]compiler.CompiledContract{"Other": contractWith(execution)}
		svc := NewService(&mockCompiler{result: output}, testLogger())
		_, err := svc.Recompile(context.Background(), RecompileRequest{
			CompilerVersion:  "0.8.17",
			Input:            counterInput(),
			DeployedBytecode: "0x" + execution,
		})
		assert.ErrorIs(t, err, ErrTargetAmbiguous)
	})

	t.Run("deployed bytecode without prefix", func(t *testing.T) {
		mock := &mockCompiler{result: counterOutput()}
		svc := NewService(mock, testLogger())
		_, err := svc.Recompile(context.Background(), RecompileRequest{
			CompilerVersion:  "0.8.17",
			Input:            counterInput(),
			DeployedBytecode: execution,
		})
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.Contains(t, err.Error(), "deployed bytecode")
		assert.Empty(t, mock.versions)
	})

	t.Run("malformed recompiled bytecode is not blamed on the request", func(t *testing.T) {
		output := &compiler.CompilationResult{
			Contracts: map[string]map[string]compiler.CompiledContract{
				"src/Counter.sol": {"Counter": contractWith("zz" + ipfsTrailer)},
			},
		}
		svc := NewService(&mockCompiler{result: output}, testLogger())
		_, err := svc.Recompile(context.Background(), RecompileRequest{
			CompilerVersion:  "0.8.17",
			Input:            counterInput(),
			DeployedBytecode: "0x" + execution + ipfsTrailer,
		})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrInvalidRequest)
		assert.Contains(t, err.Error(), "recompiled bytecode")
	})
}

func TestRecompile_UnlinkedLibraryPlaceholders(t *testing.T) {
	const placeholder = "__$f3a1b2c3d4e5f60718293a4b5c6d7e8f90$__"
	const linked = "5b38da6a701c568545dcfcb03fcb875f56beddc4"
	output := &compiler.CompilationResult{
		Contracts: map[string]map[string]compiler.CompiledContract{
			"src/Counter.sol": {"Counter": contractWith("73" + placeholder + execution + ipfsTrailer)},
		},
	}
	svc := NewService(&mockCompiler{result: output}, testLogger())

	result, err := svc.Recompile(context.Background(), RecompileRequest{
		CompilerVersion:  "0.8.17",
		Input:            counterInput(),
		DeployedBytecode: "0x73" + linked + execution + ipfsTrailer,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Target)
	assert.NotNil(t, result.Target.Auxdata)
	assert.Equal(t, CrossCheckMatch, result.CrossCheck.Status)
	assert.False(t, result.CrossCheck.ExecutionMatch)
}

func TestRecompileCandidate(t *testing.T) {
	metadata := map[string]any{
		"compiler": map[string]any{"version": "0.8.17+commit.8df45f5f"},
		"language": "Solidity",
		"settings": map[string]any{
			"compilationTarget": map[string]string{"src/Counter.sol": "Counter"},
			"optimizer":         map[string]any{"enabled": true, "runs": 200},
		},
		"sources": map[string]any{"src/Counter.sol": map[string]any{"keccak256": "0x00"}},
		"version": 1,
	}
	raw, err := json.Marshal(metadata)
	require.NoError(t, err)

	mock := &mockCompiler{result: counterOutput()}
	svc := NewService(mock, testLogger())

	candidate := &chains.Candidate{
		ChainID:  "1",
		Address:  "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		Sources:  map[string]string{"src/Counter.sol": "contract Counter {}"},
		Metadata: raw,
	}

	result, err := svc.RecompileCandidate(context.Background(), candidate, "0x"+execution+ipfsTrailer)
	require.NoError(t, err)
	assert.Equal(t, CrossCheckMatch, result.CrossCheck.Status)
	assert.Equal(t, []string{"0.8.17+commit.8df45f5f"}, mock.versions)
	require.Len(t, mock.requests, 1)
	assert.True(t, mock.requests[0].OptimizerEnabled())

	candidate.Address = "0x123"
	_, err = svc.RecompileCandidate(context.Background(), candidate, "")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	candidate.Address = ""
	candidate.ChainID = "zero"
	_, err = svc.RecompileCandidate(context.Background(), candidate, "")
	assert.ErrorIs(t, err, ErrInvalidChainID)

	candidate.ChainID = "1"
	candidate.Metadata = nil
	_, err = svc.RecompileCandidate(context.Background(), candidate, "")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCrossCheckBytecode_NoReferenceScheme(t *testing.T) {
	// {"solc": 0x000811} only
	solcOnly := "a164736f6c6343000811" + "000a"
	check, err := CrossCheckBytecode("0x"+execution+solcOnly, "0x"+execution+ipfsTrailer)
	require.NoError(t, err)
	assert.Equal(t, CrossCheckAbsent, check.Status)
	assert.Contains(t, check.Message, "recompiled bytecode")
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/solcverify/internal/compiler"
	"github.com/pendergraft/solcverify/internal/verification/domain"
)

// mockService implements Service for testing
type mockService struct {
	result *domain.RecompileResult
	err    error
	got    domain.RecompileRequest
}

func (m *mockService) Recompile(ctx context.Context, req domain.RecompileRequest) (*domain.RecompileResult, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func setupRouter(svc Service) *chi.Mux {
	r := chi.NewRouter()
	h := NewHandler(svc, slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})))
	h.RegisterRoutes(r)
	return r
}

const validBody = `{
	"compilerVersion": "0.8.17",
	"input": {
		"language": "Solidity",
		"sources": {"src/Counter.sol": {"content": "contract Counter {}"}},
		"settings": {"optimizer": {"enabled": true, "runs": 200}}
	},
	"targetName": "Counter",
	"deployedBytecode": "0x6080"
}`

func post(router http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/recompile", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Recompile(t *testing.T) {
	svc := &mockService{result: &domain.RecompileResult{
		CompilerVersion: "0.8.17",
		Contracts:       []domain.RecompiledContract{{Path: "src/Counter.sol", Name: "Counter"}},
		CrossCheck:      &domain.CrossCheck{Status: domain.CrossCheckMatch, ExecutionMatch: true},
	}}
	router := setupRouter(svc)

	rec := post(router, validBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.RecompileResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.CrossCheckMatch, resp.CrossCheck.Status)
	assert.Len(t, resp.Contracts, 1)

	assert.Equal(t, "Counter", svc.got.TargetName)
	assert.Equal(t, "0x6080", svc.got.DeployedBytecode)
	require.NotNil(t, svc.got.Input)
	assert.True(t, svc.got.Input.OptimizerEnabled())
	assert.Contains(t, svc.got.Input.Sources, "src/Counter.sol")
}

func TestHandler_RecompileBadRequests(t *testing.T) {
	router := setupRouter(&mockService{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{not json`},
		{"missing input", `{"compilerVersion": "0.8.17"}`},
		{"input not an object", `{"compilerVersion": "0.8.17", "input": [1, 2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(router, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "INVALID_REQUEST", resp.Error.Code)
		})
	}
}

func TestHandler_RecompileTooLarge(t *testing.T) {
	router := setupRouter(&mockService{})
	body := `{"compilerVersion": "0.8.17", "input": "` + strings.Repeat("a", MaxRequestBytes) + `"}`

	rec := post(router, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHandler_RecompileServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"bad version", fmt.Errorf("%w: nope", domain.ErrInvalidVersion), http.StatusBadRequest, "INVALID_REQUEST"},
		{"ambiguous", domain.ErrTargetAmbiguous, http.StatusBadRequest, "INVALID_REQUEST"},
		{"target missing", domain.ErrTargetNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"download", &compiler.DownloadError{Resource: "solc", Attempts: 5, Err: fmt.Errorf("status 503")}, http.StatusBadGateway, "COMPILER_UNAVAILABLE"},
		{"too large", compiler.ErrOutputTooLarge, http.StatusUnprocessableEntity, "OUTPUT_TOO_LARGE"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"other", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(&mockService{err: tt.err})
			rec := post(router, validBody)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestHandler_RecompileCompilerDiagnostics(t *testing.T) {
	compileErr := &compiler.CompilerError{Diagnostics: []compiler.Diagnostic{
		{Severity: "warning", Message: "unused variable"},
		{Severity: "error", Type: "ParserError", Message: "Expected ';'"},
	}}
	router := setupRouter(&mockService{err: compileErr})

	rec := post(router, validBody)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "COMPILATION_FAILED", resp.Error.Code)
	assert.Len(t, resp.Error.Diagnostics, 2)
}

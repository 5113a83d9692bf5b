//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pendergraft/solcverify/internal/chains"
	"github.com/pendergraft/solcverify/internal/config"
	"github.com/pendergraft/solcverify/internal/storage"
	"github.com/pendergraft/solcverify/pkg/client"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Store             storage.Store
	Endpoint          *FakeEndpoint
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("solcverify"),
		postgres.WithUsername("solcverify"),
		postgres.WithPassword("solcverify"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// openStoreE opens the Postgres queue and applies migrations
func openStoreE(ctx context.Context, connString string) (storage.Store, error) {
	store, err := storage.New(config.StorageConfig{
		Type:     "postgres",
		Postgres: config.PostgresConfig{URL: connString},
	}, testLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// FakeEndpoint is a verification endpoint whose answer depends on the
// submitted address suffix: "ff" fails, "ee" is already verified and
// anything else is a perfect match.
type FakeEndpoint struct {
	*httptest.Server

	mu       sync.Mutex
	received []client.VerifyRequest
	active   atomic.Int64
	peak     atomic.Int64
}

func newFakeEndpoint() *FakeEndpoint {
	f := &FakeEndpoint{}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *FakeEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	active := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		peak := f.peak.Load()
		if active <= peak || f.peak.CompareAndSwap(peak, active) {
			break
		}
	}

	var req client.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.received = append(f.received, req)
	f.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(req.Address, "ff"):
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"bytecode mismatch"}`)
	case strings.HasSuffix(req.Address, "ee"):
		fmt.Fprintf(w, `{"result":[{"address":%q,"chainId":%q,"status":"perfect","storageTimestamp":"2024-01-01T00:00:00Z"}]}`, req.Address, req.Chain)
	default:
		fmt.Fprintf(w, `{"result":[{"address":%q,"chainId":%q,"status":"perfect"}]}`, req.Address, req.Chain)
	}
}

// Received returns the requests seen so far
func (f *FakeEndpoint) Received() []client.VerifyRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]client.VerifyRequest(nil), f.received...)
}

// Reset clears the recorded requests and the concurrency peak
func (f *FakeEndpoint) Reset() {
	f.mu.Lock()
	f.received = nil
	f.mu.Unlock()
	f.peak.Store(0)
}

// Peak returns the highest number of concurrent requests observed
func (f *FakeEndpoint) Peak() int64 {
	return f.peak.Load()
}

// enqueue stores n candidates for chainID. suffixes, when given, set the
// last address byte per candidate to drive the fake endpoint's answer.
func enqueue(t *testing.T, chainID string, n int, suffixes ...string) []chains.Candidate {
	t.Helper()
	out := make([]chains.Candidate, 0, n)
	for i := 0; i < n; i++ {
		suffix := "01"
		if i < len(suffixes) {
			suffix = suffixes[i]
		}
		c := &chains.Candidate{
			ChainID:         chainID,
			Address:         fmt.Sprintf("0x%036x%02x%s", time.Now().UnixNano()%1_000_000_000, i, suffix),
			ContractName:    fmt.Sprintf("Token%d", i),
			SourcePath:      "src/Token.sol",
			Language:        "Solidity",
			CompilerVersion: "0.8.17+commit.8df45f5f",
			Sources:         map[string]string{"src/Token.sol": "contract Token {}"},
			Settings:        json.RawMessage(`{"optimizer":{"enabled":true,"runs":200}}`),
			Metadata:        json.RawMessage(`{"compiler":{"version":"0.8.17+commit.8df45f5f"},"language":"Solidity"}`),
		}
		require.NoError(t, testCtx.Store.EnqueueCandidate(context.Background(), c))
		out = append(out, *c)
	}
	return out
}

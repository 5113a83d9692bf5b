package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"log/slog"

	"github.com/pendergraft/solcverify/internal/chains"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := NewSQLiteStore(dbPath, logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return store
}

func testCandidate(chainID string, n int) *chains.Candidate {
	return &chains.Candidate{
		ChainID:         chainID,
		Address:         fmt.Sprintf("0x%040X", n),
		ContractName:    "Counter",
		SourcePath:      "src/Counter.sol",
		Language:        "Solidity",
		CompilerVersion: "0.8.17+commit.8df45f5f",
		Sources:         map[string]string{"src/Counter.sol": "contract Counter {}"},
		Settings:        json.RawMessage(`{"optimizer":{"enabled":true,"runs":200}}`),
		Metadata:        json.RawMessage(`{"compiler":{"version":"0.8.17+commit.8df45f5f"},  "version":1}`),
	}
}

func TestSQLiteStore_Candidates(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	t.Run("EnqueueAndGet", func(t *testing.T) {
		c := testCandidate("1", 1)
		if err := store.EnqueueCandidate(ctx, c); err != nil {
			t.Fatalf("EnqueueCandidate() error = %v", err)
		}
		if c.ID == 0 {
			t.Fatal("EnqueueCandidate() did not set ID")
		}

		got, err := store.GetCandidate(ctx, c.ID)
		if err != nil {
			t.Fatalf("GetCandidate() error = %v", err)
		}
		if got.Address != "0x0000000000000000000000000000000000000001" {
			t.Errorf("GetCandidate().Address = %v, want lowercased address", got.Address)
		}
		if got.Sources["src/Counter.sol"] != "contract Counter {}" {
			t.Errorf("GetCandidate().Sources = %v", got.Sources)
		}
		// metadata is kept byte for byte
		if string(got.Metadata) != string(c.Metadata) {
			t.Errorf("GetCandidate().Metadata = %s, want %s", got.Metadata, c.Metadata)
		}
		if got.CompilerVersion != c.CompilerVersion {
			t.Errorf("GetCandidate().CompilerVersion = %v, want %v", got.CompilerVersion, c.CompilerVersion)
		}
	})

	t.Run("DuplicateAddress", func(t *testing.T) {
		c := testCandidate("1", 1)
		c.Address = "0x0000000000000000000000000000000000000001"
		err := store.EnqueueCandidate(ctx, c)
		if !errors.Is(err, ErrCandidateExists) {
			t.Errorf("EnqueueCandidate() error = %v, want ErrCandidateExists", err)
		}

		// same address on another chain is a different candidate
		if err := store.EnqueueCandidate(ctx, testCandidate("10", 1)); err != nil {
			t.Errorf("EnqueueCandidate() other chain error = %v", err)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetCandidate(ctx, 9999)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetCandidate() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("NullableColumns", func(t *testing.T) {
		c := &chains.Candidate{ChainID: "5", Address: "0x00000000000000000000000000000000000000aa"}
		if err := store.EnqueueCandidate(ctx, c); err != nil {
			t.Fatalf("EnqueueCandidate() error = %v", err)
		}
		got, err := store.GetCandidate(ctx, c.ID)
		if err != nil {
			t.Fatalf("GetCandidate() error = %v", err)
		}
		if got.Metadata != nil || got.Settings != nil {
			t.Errorf("GetCandidate() metadata/settings = %s / %s, want nil", got.Metadata, got.Settings)
		}
		if got.Sources == nil {
			t.Error("GetCandidate().Sources should be an empty map")
		}
	})
}

func TestSQLiteStore_NextBatch(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 1; i <= 7; i++ {
		c := testCandidate("1", i)
		if err := store.EnqueueCandidate(ctx, c); err != nil {
			t.Fatalf("EnqueueCandidate() error = %v", err)
		}
		ids = append(ids, c.ID)
	}

	var cursor int64
	var sizes []int
	for {
		batch, err := store.NextBatch(ctx, cursor, 3)
		if err != nil {
			t.Fatalf("NextBatch() error = %v", err)
		}
		if len(batch) == 0 {
			break
		}
		for i := 1; i < len(batch); i++ {
			if batch[i].ID <= batch[i-1].ID {
				t.Fatalf("NextBatch() not in ID order: %d after %d", batch[i].ID, batch[i-1].ID)
			}
		}
		if batch[0].ID <= cursor {
			t.Fatalf("NextBatch() returned ID %d at or before cursor %d", batch[0].ID, cursor)
		}
		sizes = append(sizes, len(batch))
		cursor = batch[len(batch)-1].ID
	}

	if fmt.Sprint(sizes) != "[3 3 1]" {
		t.Errorf("batch sizes = %v, want [3 3 1]", sizes)
	}
	if cursor != ids[len(ids)-1] {
		t.Errorf("final cursor = %d, want %d", cursor, ids[len(ids)-1])
	}
}

func TestSQLiteStore_Outcomes(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	var candidates []*chains.Candidate
	for i := 1; i <= 3; i++ {
		c := testCandidate("1", i)
		if err := store.EnqueueCandidate(ctx, c); err != nil {
			t.Fatalf("EnqueueCandidate() error = %v", err)
		}
		candidates = append(candidates, c)
	}

	record := func(runID string, c *chains.Candidate, status OutcomeStatus) {
		t.Helper()
		o := &Outcome{RunID: runID, CandidateID: c.ID, Status: status, Message: string(status), DurationMs: 42}
		if err := store.RecordOutcome(ctx, o); err != nil {
			t.Fatalf("RecordOutcome() error = %v", err)
		}
		if o.ID == "" {
			t.Fatal("RecordOutcome() did not set ID")
		}
	}

	record("run-1", candidates[0], OutcomeFailed)
	record("run-1", candidates[1], OutcomeAlreadyVerified)
	record("run-2", candidates[0], OutcomeVerified)

	t.Run("ListOutcomes", func(t *testing.T) {
		outcomes, err := store.ListOutcomes(ctx, candidates[0].ID)
		if err != nil {
			t.Fatalf("ListOutcomes() error = %v", err)
		}
		if len(outcomes) != 2 {
			t.Fatalf("ListOutcomes() len = %d, want 2", len(outcomes))
		}
		if outcomes[0].Status != OutcomeFailed || outcomes[1].Status != OutcomeVerified {
			t.Errorf("ListOutcomes() statuses = %v, %v", outcomes[0].Status, outcomes[1].Status)
		}
		if outcomes[0].DurationMs != 42 {
			t.Errorf("ListOutcomes().DurationMs = %d, want 42", outcomes[0].DurationMs)
		}
	})

	t.Run("CountOutcomes", func(t *testing.T) {
		counts, err := store.CountOutcomes(ctx, "run-1")
		if err != nil {
			t.Fatalf("CountOutcomes() error = %v", err)
		}
		if counts[OutcomeFailed] != 1 || counts[OutcomeAlreadyVerified] != 1 || counts[OutcomeVerified] != 0 {
			t.Errorf("CountOutcomes() = %v", counts)
		}
	})

	t.Run("UnknownCandidate", func(t *testing.T) {
		err := store.RecordOutcome(ctx, &Outcome{RunID: "run-1", CandidateID: 9999, Status: OutcomeFailed})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("RecordOutcome() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("UnverifiedFilter", func(t *testing.T) {
		result, err := store.ListCandidates(ctx, CandidateFilter{Unverified: true}, PaginationParams{Limit: 10})
		if err != nil {
			t.Fatalf("ListCandidates() error = %v", err)
		}
		if len(result.Data) != 1 || result.Data[0].ID != candidates[2].ID {
			t.Errorf("ListCandidates(unverified) = %v, want only candidate %d", result.Data, candidates[2].ID)
		}
	})
}

func TestSQLiteStore_ListCandidates(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		chainID := "1"
		if i%2 == 0 {
			chainID = "10"
		}
		if err := store.EnqueueCandidate(ctx, testCandidate(chainID, i)); err != nil {
			t.Fatalf("EnqueueCandidate() error = %v", err)
		}
	}

	t.Run("pagination", func(t *testing.T) {
		first, err := store.ListCandidates(ctx, CandidateFilter{}, PaginationParams{Limit: 2})
		if err != nil {
			t.Fatalf("ListCandidates() error = %v", err)
		}
		if len(first.Data) != 2 || !first.HasMore {
			t.Fatalf("first page = %d items, hasMore %v", len(first.Data), first.HasMore)
		}

		second, err := store.ListCandidates(ctx, CandidateFilter{}, PaginationParams{Limit: 2, Cursor: first.NextCursor})
		if err != nil {
			t.Fatalf("ListCandidates() error = %v", err)
		}
		if second.Data[0].ID <= first.NextCursor {
			t.Errorf("second page starts at %d, cursor %d", second.Data[0].ID, first.NextCursor)
		}

		third, err := store.ListCandidates(ctx, CandidateFilter{}, PaginationParams{Limit: 2, Cursor: second.NextCursor})
		if err != nil {
			t.Fatalf("ListCandidates() error = %v", err)
		}
		if len(third.Data) != 1 || third.HasMore {
			t.Errorf("last page = %d items, hasMore %v", len(third.Data), third.HasMore)
		}
	})

	t.Run("chain filter", func(t *testing.T) {
		result, err := store.ListCandidates(ctx, CandidateFilter{ChainID: "10"}, PaginationParams{Limit: 10})
		if err != nil {
			t.Fatalf("ListCandidates() error = %v", err)
		}
		if len(result.Data) != 2 {
			t.Errorf("ListCandidates(chain 10) len = %d, want 2", len(result.Data))
		}
		for _, c := range result.Data {
			if c.ChainID != "10" {
				t.Errorf("ListCandidates(chain 10) returned chain %s", c.ChainID)
			}
		}
	})
}

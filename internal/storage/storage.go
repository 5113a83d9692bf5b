package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/solcverify/internal/chains"
	"github.com/pendergraft/solcverify/internal/config"
)

// CandidateStore handles the verification queue
type CandidateStore interface {
	// EnqueueCandidate stores c and sets c.ID. IDs grow monotonically and
	// act as the driver's cursor.
	EnqueueCandidate(ctx context.Context, c *chains.Candidate) error
	GetCandidate(ctx context.Context, id int64) (*chains.Candidate, error)
	// NextBatch returns up to limit candidates with ID > after, in ID order.
	NextBatch(ctx context.Context, after int64, limit int) ([]chains.Candidate, error)
	ListCandidates(ctx context.Context, filter CandidateFilter, pagination PaginationParams) (*PaginatedResult[chains.Candidate], error)
}

// OutcomeStore handles the verification outcome log
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, o *Outcome) error
	ListOutcomes(ctx context.Context, candidateID int64) ([]Outcome, error)
	CountOutcomes(ctx context.Context, runID string) (map[OutcomeStatus]int, error)
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	CandidateStore
	OutcomeStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// OutcomeStatus is the result of one verification submission
type OutcomeStatus string

// Outcome statuses.
const (
	OutcomeVerified        OutcomeStatus = "verified"
	OutcomeAlreadyVerified OutcomeStatus = "already_verified"
	OutcomeFailed          OutcomeStatus = "failed"
)

// Outcome represents one recorded verification attempt
type Outcome struct {
	ID          string
	RunID       string
	CandidateID int64
	Status      OutcomeStatus
	Message     string
	DurationMs  int64
	CreatedAt   string
}

// CandidateFilter contains filter options for listing candidates
type CandidateFilter struct {
	ChainID string
	// Unverified keeps candidates without a verified or already_verified outcome.
	Unverified bool
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor int64
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor int64
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

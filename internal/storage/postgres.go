package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pendergraft/solcverify/internal/chains"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// pgForeignKeyViolation is the SQLSTATE for foreign_key_violation.
const pgForeignKeyViolation = "23503"

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	// metadata is TEXT: its bytes are hashed into the deployed auxdata and
	// JSONB would reformat them.
	schema := `
	-- Verification queue
	CREATE TABLE IF NOT EXISTS candidates (
		id BIGSERIAL PRIMARY KEY,
		chain_id TEXT NOT NULL,
		address TEXT NOT NULL,
		contract_name TEXT,
		source_path TEXT,
		language TEXT,
		compiler_version TEXT,
		sources JSONB NOT NULL,
		settings JSONB,
		metadata TEXT,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(chain_id, address)
	);

	-- Outcome log
	CREATE TABLE IF NOT EXISTS outcomes (
		id UUID PRIMARY KEY,
		run_id UUID NOT NULL,
		candidate_id BIGINT NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		message TEXT,
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_candidates_chain ON candidates(chain_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_candidate ON outcomes(candidate_id);
	CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// EnqueueCandidate adds a candidate to the queue
func (s *PostgresStore) EnqueueCandidate(ctx context.Context, c *chains.Candidate) error {
	sources, err := encodeSources(c.Sources)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO candidates (chain_id, address, contract_name, source_path, language, compiler_version, sources, settings, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		c.ChainID, normalizeAddress(c.Address), c.ContractName, c.SourcePath, c.Language, c.CompilerVersion,
		sources, rawOrNil(c.Settings), rawOrNil(c.Metadata),
	).Scan(&c.ID)
	if isPgError(err, pgUniqueViolation) {
		return ErrCandidateExists
	}
	return err
}

const pgCandidateColumns = `id, chain_id, address, contract_name, source_path, language, compiler_version, sources::text, settings::text, metadata`

// GetCandidate retrieves a candidate by ID
func (s *PostgresStore) GetCandidate(ctx context.Context, id int64) (*chains.Candidate, error) {
	query := `SELECT ` + pgCandidateColumns + ` FROM candidates WHERE id = $1`
	c, err := scanCandidate(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// NextBatch returns the candidates after the cursor
func (s *PostgresStore) NextBatch(ctx context.Context, after int64, limit int) ([]chains.Candidate, error) {
	query := `SELECT ` + pgCandidateColumns + ` FROM candidates WHERE id > $1 ORDER BY id LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// ListCandidates lists candidates with filtering and cursor-based pagination
func (s *PostgresStore) ListCandidates(ctx context.Context, filter CandidateFilter, pagination PaginationParams) (*PaginatedResult[chains.Candidate], error) {
	limit := pageLimit(pagination.Limit)

	where := []string{"c.id > $1"}
	args := []any{pagination.Cursor}
	if filter.ChainID != "" {
		args = append(args, filter.ChainID)
		where = append(where, fmt.Sprintf("c.chain_id = $%d", len(args)))
	}
	if filter.Unverified {
		where = append(where, `NOT EXISTS (
			SELECT 1 FROM outcomes o
			WHERE o.candidate_id = c.id AND o.status IN ('verified', 'already_verified')
		)`)
	}
	args = append(args, limit+1)

	query := fmt.Sprintf(`SELECT c.id, c.chain_id, c.address, c.contract_name, c.source_path, c.language, c.compiler_version, c.sources::text, c.settings::text, c.metadata
		FROM candidates c
		WHERE %s
		ORDER BY c.id LIMIT $%d`, strings.Join(where, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates, err := scanCandidates(rows)
	if err != nil {
		return nil, err
	}
	return paginate(candidates, limit), nil
}

// RecordOutcome appends to the outcome log
func (s *PostgresStore) RecordOutcome(ctx context.Context, o *Outcome) error {
	if o.ID == "" {
		o.ID = generateID()
	}
	query := `
		INSERT INTO outcomes (id, run_id, candidate_id, status, message, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query, o.ID, o.RunID, o.CandidateID, string(o.Status), o.Message, o.DurationMs)
	if isPgError(err, pgForeignKeyViolation) {
		return fmt.Errorf("candidate %d: %w", o.CandidateID, ErrNotFound)
	}
	return err
}

// ListOutcomes lists the outcomes recorded for a candidate, oldest first
func (s *PostgresStore) ListOutcomes(ctx context.Context, candidateID int64) ([]Outcome, error) {
	query := `
		SELECT id::text, run_id::text, candidate_id, status, COALESCE(message, ''), duration_ms, created_at
		FROM outcomes
		WHERE candidate_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, candidateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var o Outcome
		var status string
		var createdAt time.Time
		if err := rows.Scan(&o.ID, &o.RunID, &o.CandidateID, &status, &o.Message, &o.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		o.Status = OutcomeStatus(status)
		o.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// CountOutcomes counts a run's outcomes by status
func (s *PostgresStore) CountOutcomes(ctx context.Context, runID string) (map[OutcomeStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outcomes WHERE run_id = $1 GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCounts(rows)
}

func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

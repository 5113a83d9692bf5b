package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pendergraft/solcverify/internal/chains"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Driver completions write outcomes concurrently
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Verification queue
	CREATE TABLE IF NOT EXISTS candidates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chain_id TEXT NOT NULL,
		address TEXT NOT NULL,
		contract_name TEXT,
		source_path TEXT,
		language TEXT,
		compiler_version TEXT,
		sources TEXT NOT NULL,
		settings TEXT,
		metadata TEXT,
		created_at TEXT DEFAULT (datetime('now')),
		UNIQUE(chain_id, address)
	);

	-- Outcome log
	CREATE TABLE IF NOT EXISTS outcomes (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		candidate_id INTEGER NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
		status TEXT NOT NULL,
		message TEXT,
		duration_ms INTEGER NOT NULL,
		created_at TEXT DEFAULT (datetime('now'))
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
func (s *SQLiteStore) EnqueueCandidate(ctx context.Context, c *chains.Candidate) error {
	sources, err := encodeSources(c.Sources)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO candidates (chain_id, address, contract_name, source_path, language, compiler_version, sources, settings, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
	`
	res, err := s.db.ExecContext(ctx, query,
		c.ChainID, normalizeAddress(c.Address), c.ContractName, c.SourcePath, c.Language, c.CompilerVersion,
		sources, rawOrNil(c.Settings), rawOrNil(c.Metadata),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrCandidateExists
		}
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = id
	return nil
}

const sqliteCandidateColumns = `id, chain_id, address, contract_name, source_path, language, compiler_version, sources, settings, metadata`

// GetCandidate retrieves a candidate by ID
func (s *SQLiteStore) GetCandidate(ctx context.Context, id int64) (*chains.Candidate, error) {
	query := `SELECT ` + sqliteCandidateColumns + ` FROM candidates WHERE id = ?`
	c, err := scanCandidate(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// NextBatch returns the candidates after the cursor
func (s *SQLiteStore) NextBatch(ctx context.Context, after int64, limit int) ([]chains.Candidate, error) {
	query := `SELECT ` + sqliteCandidateColumns + ` FROM candidates WHERE id > ? ORDER BY id LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// ListCandidates lists candidates with filtering and cursor-based pagination
func (s *SQLiteStore) ListCandidates(ctx context.Context, filter CandidateFilter, pagination PaginationParams) (*PaginatedResult[chains.Candidate], error) {
	limit := pageLimit(pagination.Limit)

	where := []string{"c.id > ?"}
	args := []any{pagination.Cursor}
	if filter.ChainID != "" {
		where = append(where, "c.chain_id = ?")
		args = append(args, filter.ChainID)
	}
	if filter.Unverified {
		where = append(where, `NOT EXISTS (
			SELECT 1 FROM outcomes o
			WHERE o.candidate_id = c.id AND o.status IN ('verified', 'already_verified')
		)`)
	}
	args = append(args, limit+1)

	query := `SELECT c.id, c.chain_id, c.address, c.contract_name, c.source_path, c.language, c.compiler_version, c.sources, c.settings, c.metadata
		FROM candidates c
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY c.id LIMIT ?`

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
func (s *SQLiteStore) RecordOutcome(ctx context.Context, o *Outcome) error {
	if o.ID == "" {
		o.ID = generateID()
	}
	query := `
		INSERT INTO outcomes (id, run_id, candidate_id, status, message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
	`
	_, err := s.db.ExecContext(ctx, query, o.ID, o.RunID, o.CandidateID, string(o.Status), o.Message, o.DurationMs)
	if err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
		return fmt.Errorf("candidate %d: %w", o.CandidateID, ErrNotFound)
	}
	return err
}

// ListOutcomes lists the outcomes recorded for a candidate, oldest first
func (s *SQLiteStore) ListOutcomes(ctx context.Context, candidateID int64) ([]Outcome, error) {
	query := `
		SELECT id, run_id, candidate_id, status, COALESCE(message, ''), duration_ms, created_at
		FROM outcomes
		WHERE candidate_id = ?
		ORDER BY created_at, rowid
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
		if err := rows.Scan(&o.ID, &o.RunID, &o.CandidateID, &status, &o.Message, &o.DurationMs, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Status = OutcomeStatus(status)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// CountOutcomes counts a run's outcomes by status
func (s *SQLiteStore) CountOutcomes(ctx context.Context, runID string) (map[OutcomeStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM outcomes WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCounts(rows)
}

// Helper functions shared by both backends

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (*chains.Candidate, error) {
	var c chains.Candidate
	var contractName, sourcePath, language, compilerVersion, settings, metadata sql.NullString
	var sources string
	if err := row.Scan(&c.ID, &c.ChainID, &c.Address, &contractName, &sourcePath, &language, &compilerVersion, &sources, &settings, &metadata); err != nil {
		return nil, err
	}
	c.ContractName = contractName.String
	c.SourcePath = sourcePath.String
	c.Language = language.String
	c.CompilerVersion = compilerVersion.String
	if settings.Valid {
		c.Settings = []byte(settings.String)
	}
	if metadata.Valid {
		c.Metadata = []byte(metadata.String)
	}

	decoded, err := decodeSources(sources)
	if err != nil {
		return nil, fmt.Errorf("candidate %d: %w", c.ID, err)
	}
	c.Sources = decoded
	return &c, nil
}

func scanCandidates(rows *sql.Rows) ([]chains.Candidate, error) {
	var candidates []chains.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, *c)
	}
	return candidates, rows.Err()
}

func scanCounts(rows *sql.Rows) (map[OutcomeStatus]int, error) {
	counts := make(map[OutcomeStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[OutcomeStatus(status)] = n
	}
	return counts, rows.Err()
}

func paginate(candidates []chains.Candidate, limit int) *PaginatedResult[chains.Candidate] {
	hasMore := len(candidates) > limit
	if hasMore {
		candidates = candidates[:limit]
	}
	var nextCursor int64
	if len(candidates) > 0 {
		nextCursor = candidates[len(candidates)-1].ID
	}
	return &PaginatedResult[chains.Candidate]{
		Data:       candidates,
		HasMore:    hasMore,
		NextCursor: nextCursor,
	}
}

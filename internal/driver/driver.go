// Package driver drains the candidate queue into a remote verification
// endpoint, ramping up concurrency as the endpoint proves responsive.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pendergraft/solcverify/internal/chains"
	"github.com/pendergraft/solcverify/internal/config"
	"github.com/pendergraft/solcverify/internal/observability/metrics"
	"github.com/pendergraft/solcverify/internal/storage"
	"github.com/pendergraft/solcverify/pkg/client"
)

// ErrQueueUnavailable is returned by Run when the first batch cannot be
// read. It is the only error that stops a run.
var ErrQueueUnavailable = errors.New("candidate queue unavailable")

// Queue is the candidate source.
type Queue interface {
	NextBatch(ctx context.Context, after int64, limit int) ([]chains.Candidate, error)
}

// Submitter sends one candidate to the verification endpoint.
type Submitter interface {
	Verify(ctx context.Context, req client.VerifyRequest) (*client.Submission, error)
}

// OutcomeRecorder persists terminal candidate states.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, o *storage.Outcome) error
}

// Summary describes a finished run.
type Summary struct {
	RunID           string        `json:"runId"`
	Batches         int           `json:"batches"`
	Submitted       int64         `json:"submitted"`
	Verified        int64         `json:"verified"`
	AlreadyVerified int64         `json:"alreadyVerified"`
	Failed          int64         `json:"failed"`
	Cursor          int64         `json:"cursor"`
	Duration        time.Duration `json:"duration"`
	// Abandoned counts tasks still in flight when the grace period ran out.
	Abandoned int64 `json:"abandoned"`
}

// Status is a point-in-time snapshot of a run.
type Status struct {
	RunID        string    `json:"runId,omitempty"`
	Running      bool      `json:"running"`
	StartedAt    time.Time `json:"startedAt,omitzero"`
	Batch        int       `json:"batch"`
	Cursor       int64     `json:"cursor"`
	Ceiling      int64     `json:"ceiling"`
	Max          int64     `json:"maxConcurrency"`
	GrowthFactor float64   `json:"growthFactor"`
	Active       int64     `json:"active"`
	Completed    int64     `json:"completed"`
	Failed       int64     `json:"failed"`
	Prefetching  bool      `json:"prefetching"`
}

// Driver runs the adaptive batch loop.
type Driver struct {
	cfg       config.DriverConfig
	queue     Queue
	submitter Submitter
	recorder  OutcomeRecorder
	logger    *slog.Logger

	state *ConcurrencyState

	mu          sync.Mutex
	runID       string
	running     bool
	startedAt   time.Time
	batch       int
	cursor      int64
	next        []chains.Candidate
	prefetching bool

	verified        int64
	alreadyVerified int64
}

// New creates a driver. recorder may be nil.
func New(cfg config.DriverConfig, queue Queue, submitter Submitter, recorder OutcomeRecorder, logger *slog.Logger) *Driver {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = 500 * time.Millisecond
	}
	if cfg.PrefetchPoll <= 0 {
		cfg.PrefetchPoll = 100 * time.Millisecond
	}
	return &Driver{
		cfg:       cfg,
		queue:     queue,
		submitter: submitter,
		recorder:  recorder,
		logger:    logger,
		state:     NewConcurrencyState(cfg.ColdStart, cfg.MaxConcurrency, cfg.GrowthFactor),
	}
}

// State exposes the pacing counters.
func (d *Driver) State() *ConcurrencyState {
	return d.state
}

// Status returns a snapshot for the status server.
func (d *Driver) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		RunID:        d.runID,
		Running:      d.running,
		StartedAt:    d.startedAt,
		Batch:        d.batch,
		Cursor:       d.cursor,
		Ceiling:      d.state.Ceiling(),
		Max:          d.state.max,
		GrowthFactor: d.state.growth,
		Active:       d.state.Active(),
		Completed:    d.state.Completed(),
		Failed:       d.state.Failed(),
		Prefetching:  d.prefetching,
	}
}

// Run drains the queue starting after cfg.StartAfter until it is empty,
// cfg.Limit candidates have verified, or ctx is cancelled. Per-candidate
// failures are outcomes, not errors. In-flight submissions get up to
// cfg.GracePeriod to finish after the loop exits.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := d.logger.With("run_id", runID)

	d.mu.Lock()
	d.runID = runID
	d.running = true
	d.startedAt = start
	d.cursor = d.cfg.StartAfter
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	metrics.DriverCeiling(d.state.Ceiling())

	current, err := d.queue.NextBatch(ctx, d.cfg.StartAfter, d.cfg.BatchSize)
	if err != nil {
		metrics.DriverBatch("error")
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	metrics.DriverBatch("ok")

	var wg sync.WaitGroup
	submitted := int64(0)

	if len(current) > 0 {
		d.promote(logger, current)
		d.startPrefetch(ctx, logger, lastID(current))
	}

loop:
	for {
		if d.cfg.Limit > 0 && d.state.Completed() >= int64(d.cfg.Limit) {
			logger.Info("verification limit reached", "limit", d.cfg.Limit)
			break
		}
		if ctx.Err() != nil {
			logger.Warn("run cancelled", "error", ctx.Err())
			break
		}

		if len(current) == 0 {
			next, inFlight := d.takeNext()
			switch {
			case inFlight:
				sleep(ctx, d.cfg.PrefetchPoll)
			case len(next) == 0:
				logger.Info("backlog exhausted")
				break loop
			default:
				current = next
				d.promote(logger, current)
				d.startPrefetch(ctx, logger, lastID(current))
			}
			continue
		}

		if d.state.Saturated() {
			sleep(ctx, d.cfg.WaitInterval)
			continue
		}

		candidate := current[0]
		current = current[1:]
		submitted++
		metrics.DriverActive(d.state.launch())

		wg.Add(1)
		go func(c chains.Candidate) {
			defer wg.Done()
			d.verify(ctx, logger, runID, c)
		}(candidate)
	}

	abandoned := d.drain(logger, &wg)

	d.mu.Lock()
	summary := &Summary{
		RunID:           runID,
		Batches:         d.batch,
		Submitted:       submitted,
		Verified:        d.verified,
		AlreadyVerified: d.alreadyVerified,
		Failed:          d.state.Failed(),
		Cursor:          d.cursor,
		Duration:        time.Since(start),
		Abandoned:       abandoned,
	}
	d.mu.Unlock()

	logger.Info("run finished",
		"batches", summary.Batches,
		"submitted", summary.Submitted,
		"verified", summary.Verified,
		"already_verified", summary.AlreadyVerified,
		"failed", summary.Failed,
		"cursor", summary.Cursor,
		"duration", summary.Duration,
	)
	return summary, nil
}

// drain waits for in-flight tasks, at most for the grace period. It
// returns how many were still running when the wait gave up.
func (d *Driver) drain(logger *slog.Logger, wg *sync.WaitGroup) int64 {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if d.cfg.GracePeriod <= 0 {
		<-done
		return 0
	}

	timer := time.NewTimer(d.cfg.GracePeriod)
	defer timer.Stop()
	select {
	case <-done:
		return 0
	case <-timer.C:
		active := d.state.Active()
		logger.Warn("grace period expired with tasks in flight", "in_flight", active, "grace_period", d.cfg.GracePeriod)
		return active
	}
}

func (d *Driver) promote(logger *slog.Logger, batch []chains.Candidate) {
	d.mu.Lock()
	d.batch++
	d.cursor = lastID(batch)
	n := d.batch
	d.mu.Unlock()

	logger.Info("batch promoted",
		"batch", n,
		"size", len(batch),
		"cursor", lastID(batch),
		"ceiling", d.state.Ceiling(),
		"completed", d.state.Completed(),
	)
}

// startPrefetch fetches the batch after cursor in the background. A
// failure leaves the next batch empty, which ends the run once the
// current batch drains.
func (d *Driver) startPrefetch(ctx context.Context, logger *slog.Logger, after int64) {
	d.mu.Lock()
	d.prefetching = true
	d.next = nil
	d.mu.Unlock()

	go func() {
		batch, err := d.queue.NextBatch(ctx, after, d.cfg.BatchSize)
		if err != nil {
			metrics.DriverBatch("error")
			logger.Error("prefetch failed; run will stop after the current batch", "after", after, "error", err)
			batch = nil
		} else {
			metrics.DriverBatch("ok")
		}

		d.mu.Lock()
		d.next = batch
		d.prefetching = false
		d.mu.Unlock()
	}()
}

func (d *Driver) takeNext() ([]chains.Candidate, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.prefetching {
		return nil, true
	}
	next := d.next
	d.next = nil
	return next, false
}

func (d *Driver) verify(ctx context.Context, logger *slog.Logger, runID string, c chains.Candidate) {
	start := time.Now()

	// the request outlives run cancellation; the grace period bounds it
	reqCtx := context.WithoutCancel(ctx)
	if d.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(reqCtx, d.cfg.RequestTimeout)
		defer cancel()
	}

	chain := c.ChainID
	if chain == "" {
		chain = d.cfg.ChainID
	}

	sub, err := d.submitter.Verify(reqCtx, client.VerifyRequest{
		Address: c.Address,
		Chain:   chain,
		Files:   c.Files(),
	})
	duration := time.Since(start)

	outcome := &storage.Outcome{
		RunID:       runID,
		CandidateID: c.ID,
		DurationMs:  duration.Milliseconds(),
	}
	switch {
	case err != nil:
		outcome.Status = storage.OutcomeFailed
		outcome.Message = err.Error()
	case sub.AlreadyVerified:
		outcome.Status = storage.OutcomeAlreadyVerified
		outcome.Message = sub.Status
	default:
		outcome.Status = storage.OutcomeVerified
		outcome.Message = sub.Status
	}

	success := err == nil
	active, grownTo := d.state.finish(success)
	metrics.DriverActive(active)
	metrics.VerificationRequest(string(outcome.Status), duration)

	d.mu.Lock()
	switch outcome.Status {
	case storage.OutcomeVerified:
		d.verified++
	case storage.OutcomeAlreadyVerified:
		d.alreadyVerified++
	}
	d.mu.Unlock()

	attrs := []any{
		"candidate_id", c.ID,
		"chain_id", chain,
		"address", c.Address,
		"contract", c.ContractName,
		"status", outcome.Status,
		"duration", duration,
	}
	if err != nil {
		logger.Error("verification failed", append(attrs, "error", err)...)
	} else {
		logger.Info("verification complete", append(attrs, "match", sub.Status)...)
	}

	if grownTo > 0 {
		metrics.DriverCeiling(grownTo)
		logger.Info("concurrency ceiling raised", "ceiling", grownTo, "completed", d.state.Completed())
	}

	if d.recorder != nil {
		if err := d.recorder.RecordOutcome(context.WithoutCancel(ctx), outcome); err != nil {
			logger.Warn("recording outcome failed", "candidate_id", c.ID, "error", err)
		}
	}
}

func lastID(batch []chains.Candidate) int64 {
	if len(batch) == 0 {
		return 0
	}
	return batch[len(batch)-1].ID
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

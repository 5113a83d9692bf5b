package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/solcverify/internal/chains"
	"github.com/pendergraft/solcverify/internal/config"
	"github.com/pendergraft/solcverify/internal/storage"
	"github.com/pendergraft/solcverify/pkg/client"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.DriverConfig {
	return config.DriverConfig{
		ChainID:        "1",
		BatchSize:      3,
		ColdStart:      3,
		GrowthFactor:   1.2,
		MaxConcurrency: 8,
		WaitInterval:   time.Millisecond,
		PrefetchPoll:   time.Millisecond,
		GracePeriod:    5 * time.Second,
	}
}

// fakeQueue serves candidates with IDs 1..n
type fakeQueue struct {
	mu         sync.Mutex
	candidates []chains.Candidate
	calls      []int64
	failOnCall map[int]error
	delay      time.Duration
}

func newFakeQueue(n int) *fakeQueue {
	q := &fakeQueue{failOnCall: map[int]error{}}
	for i := 1; i <= n; i++ {
		q.candidates = append(q.candidates, chains.Candidate{
			ID:           int64(i),
			Address:      fmt.Sprintf("0x%040x", i),
			ContractName: "Counter",
			Sources:      map[string]string{"src/Counter.sol": "contract Counter {}"},
			Metadata:     []byte(`{}`),
		})
	}
	return q
}

func (q *fakeQueue) NextBatch(ctx context.Context, after int64, limit int) ([]chains.Candidate, error) {
	if q.delay > 0 {
		time.Sleep(q.delay)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls = append(q.calls, after)
	if err, ok := q.failOnCall[len(q.calls)]; ok {
		return nil, err
	}
	var batch []chains.Candidate
	for _, c := range q.candidates {
		if c.ID > after && len(batch) < limit {
			batch = append(batch, c)
		}
	}
	return batch, nil
}

func (q *fakeQueue) Calls() []int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]int64(nil), q.calls...)
}

// fakeSubmitter answers by address and tracks peak concurrency
type fakeSubmitter struct {
	mu       sync.Mutex
	seen     []client.VerifyRequest
	respond  func(req client.VerifyRequest) (*client.Submission, error)
	delay    time.Duration
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (s *fakeSubmitter) Verify(ctx context.Context, req client.VerifyRequest) (*client.Submission, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	s.mu.Lock()
	s.seen = append(s.seen, req)
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.respond != nil {
		return s.respond(req)
	}
	return &client.Submission{Status: "perfect"}, nil
}

func (s *fakeSubmitter) Seen() []client.VerifyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]client.VerifyRequest(nil), s.seen...)
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []storage.Outcome
}

func (r *fakeRecorder) RecordOutcome(ctx context.Context, o *storage.Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, *o)
	return nil
}

func (r *fakeRecorder) byStatus() map[storage.OutcomeStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[storage.OutcomeStatus]int{}
	for _, o := range r.outcomes {
		counts[o.Status]++
	}
	return counts
}

func TestDriver_DrainsBacklog(t *testing.T) {
	queue := newFakeQueue(10)
	submitter := &fakeSubmitter{}
	recorder := &fakeRecorder{}

	d := New(testConfig(), queue, submitter, recorder, testLogger())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(10), summary.Submitted)
	assert.Equal(t, int64(10), summary.Verified)
	assert.Equal(t, int64(0), summary.Failed)
	assert.Equal(t, 4, summary.Batches)
	assert.Equal(t, int64(10), summary.Cursor)
	assert.NotEmpty(t, summary.RunID)

	assert.Equal(t, []int64{0, 3, 6, 9, 10}, queue.Calls())
	assert.Equal(t, 10, recorder.byStatus()[storage.OutcomeVerified])

	seen := submitter.Seen()
	require.Len(t, seen, 10)
	assert.Equal(t, "1", seen[0].Chain)
	assert.Contains(t, seen[0].Files, "metadata.json")
	assert.Contains(t, seen[0].Files, "src/Counter.sol")
}

func TestDriver_RespectsCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.ColdStart = 2
	cfg.MaxConcurrency = 2
	cfg.BatchSize = 5

	submitter := &fakeSubmitter{delay: 10 * time.Millisecond}
	d := New(cfg, newFakeQueue(12), submitter, nil, testLogger())

	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), summary.Verified)
	assert.LessOrEqual(t, submitter.peak.Load(), int64(2))
}

func TestDriver_CeilingGrows(t *testing.T) {
	cfg := testConfig()
	cfg.ColdStart = 1
	cfg.MaxConcurrency = 4
	cfg.GrowthFactor = 2

	d := New(cfg, newFakeQueue(20), &fakeSubmitter{}, nil, testLogger())
	_, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(4), d.State().Ceiling())
	assert.Equal(t, int64(0), d.State().Active())
}

func TestDriver_FailuresDoNotAbort(t *testing.T) {
	submitter := &fakeSubmitter{
		respond: func(req client.VerifyRequest) (*client.Submission, error) {
			switch req.Address[len(req.Address)-1] {
			case '3', '6', '9':
				return nil, fmt.Errorf("%w: no match", client.ErrVerificationFailed)
			case '2':
				return &client.Submission{Status: "partial", AlreadyVerified: true}, nil
			}
			return &client.Submission{Status: "perfect"}, nil
		},
	}
	recorder := &fakeRecorder{}

	d := New(testConfig(), newFakeQueue(9), submitter, recorder, testLogger())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(9), summary.Submitted)
	assert.Equal(t, int64(3), summary.Failed)
	assert.Equal(t, int64(1), summary.AlreadyVerified)
	assert.Equal(t, int64(5), summary.Verified)

	counts := recorder.byStatus()
	assert.Equal(t, 3, counts[storage.OutcomeFailed])
	assert.Equal(t, 1, counts[storage.OutcomeAlreadyVerified])
	assert.Equal(t, 5, counts[storage.OutcomeVerified])
}

func TestDriver_Limit(t *testing.T) {
	cfg := testConfig()
	cfg.ColdStart = 1
	cfg.MaxConcurrency = 1
	cfg.Limit = 5

	submitter := &fakeSubmitter{}
	d := New(cfg, newFakeQueue(20), submitter, nil, testLogger())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(5), summary.Verified)
	assert.Len(t, submitter.Seen(), 5)
}

func TestDriver_StartAfter(t *testing.T) {
	cfg := testConfig()
	cfg.StartAfter = 7

	submitter := &fakeSubmitter{}
	d := New(cfg, newFakeQueue(10), submitter, nil, testLogger())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), summary.Submitted)
	assert.Equal(t, int64(10), summary.Cursor)
}

func TestDriver_InitialFetchFailure(t *testing.T) {
	queue := newFakeQueue(5)
	queue.failOnCall[1] = errors.New("connection refused")

	d := New(testConfig(), queue, &fakeSubmitter{}, nil, testLogger())
	_, err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrQueueUnavailable)
}

func TestDriver_PrefetchFailureEndsRun(t *testing.T) {
	queue := newFakeQueue(9)
	queue.failOnCall[2] = errors.New("connection reset")

	submitter := &fakeSubmitter{}
	d := New(testConfig(), queue, submitter, nil, testLogger())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	// only the first batch ran; the failed prefetch was not retried
	assert.Equal(t, int64(3), summary.Submitted)
	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, []int64{0, 3}, queue.Calls())
}

func TestDriver_WaitsForSlowPrefetch(t *testing.T) {
	queue := newFakeQueue(6)
	queue.delay = 20 * time.Millisecond

	d := New(testConfig(), queue, &fakeSubmitter{}, nil, testLogger())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), summary.Verified)
	assert.Equal(t, 2, summary.Batches)
}

func TestDriver_EmptyQueue(t *testing.T) {
	submitter := &fakeSubmitter{}
	d := New(testConfig(), newFakeQueue(0), submitter, nil, testLogger())
	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), summary.Submitted)
	assert.Equal(t, 0, summary.Batches)
	assert.Empty(t, submitter.Seen())
}

func TestDriver_GracePeriod(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	submitter := &fakeSubmitter{
		respond: func(req client.VerifyRequest) (*client.Submission, error) {
			started <- struct{}{}
			<-release
			return &client.Submission{Status: "perfect"}, nil
		},
	}
	t.Cleanup(func() { close(release) })

	cfg := testConfig()
	cfg.ColdStart = 1
	cfg.MaxConcurrency = 1
	cfg.GracePeriod = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	d := New(cfg, newFakeQueue(3), submitter, nil, testLogger())
	summary, err := d.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(1), summary.Submitted)
	assert.Equal(t, int64(1), summary.Abandoned)
}

func TestDriver_Status(t *testing.T) {
	d := New(testConfig(), newFakeQueue(4), &fakeSubmitter{}, nil, testLogger())

	before := d.Status()
	assert.False(t, before.Running)
	assert.Equal(t, int64(3), before.Ceiling)
	assert.Equal(t, int64(8), before.Max)

	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	after := d.Status()
	assert.False(t, after.Running)
	assert.Equal(t, summary.RunID, after.RunID)
	assert.Equal(t, 2, after.Batch)
	assert.Equal(t, int64(4), after.Completed)
	assert.Equal(t, int64(4), after.Cursor)
}

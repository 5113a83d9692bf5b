package driver

import (
	"math"
	"sync/atomic"
)

// ConcurrencyState paces the driver. The control loop is the only writer
// of active increments; completions decrement active and bump completed.
// The counters are advisory and only used for pacing and reporting.
type ConcurrencyState struct {
	ceiling   atomic.Int64
	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	max    int64
	growth float64
}

// NewConcurrencyState returns a state starting at coldStart concurrent
// tasks, growing by factor up to max.
func NewConcurrencyState(coldStart, max int, factor float64) *ConcurrencyState {
	if max < 1 {
		max = 1
	}
	if coldStart < 1 {
		coldStart = 1
	}
	if coldStart > max {
		coldStart = max
	}
	if factor < 1 {
		factor = 1
	}
	s := &ConcurrencyState{max: int64(max), growth: factor}
	s.ceiling.Store(int64(coldStart))
	return s
}

// Ceiling is the current concurrency limit.
func (s *ConcurrencyState) Ceiling() int64 { return s.ceiling.Load() }

// Active is the number of tasks in flight.
func (s *ConcurrencyState) Active() int64 { return s.active.Load() }

// Completed is the number of successful tasks.
func (s *ConcurrencyState) Completed() int64 { return s.completed.Load() }

// Failed is the number of failed tasks.
func (s *ConcurrencyState) Failed() int64 { return s.failed.Load() }

// Saturated reports whether another task may not be launched yet.
func (s *ConcurrencyState) Saturated() bool {
	return s.active.Load() >= s.ceiling.Load()
}

func (s *ConcurrencyState) launch() int64 {
	return s.active.Add(1)
}

// finish records a completed task and returns the new ceiling when it
// grew, or 0.
func (s *ConcurrencyState) finish(success bool) (active, grownTo int64) {
	// completed moves before active so the control loop never sees a free
	// slot while the finished task is still uncounted
	if !success {
		s.failed.Add(1)
		return s.active.Add(-1), 0
	}
	completed := s.completed.Add(1)
	active = s.active.Add(-1)
	return active, s.grow(completed)
}

// grow multiplies the ceiling once completed has reached it. The ceiling
// never decreases and never exceeds max.
func (s *ConcurrencyState) grow(completed int64) int64 {
	for {
		current := s.ceiling.Load()
		if completed < current || current >= s.max {
			return 0
		}
		next := int64(math.Ceil(float64(current) * s.growth))
		if next > s.max {
			next = s.max
		}
		if next <= current {
			return 0
		}
		if s.ceiling.CompareAndSwap(current, next) {
			return next
		}
	}
}

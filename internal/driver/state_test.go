package driver

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConcurrencyState_ColdStartGrowth(t *testing.T) {
	s := NewConcurrencyState(3, 64, 1.2)
	assert.Equal(t, int64(3), s.Ceiling())

	for i := 0; i < 3; i++ {
		s.launch()
	}
	for i := 0; i < 3; i++ {
		s.finish(true)
	}

	assert.GreaterOrEqual(t, s.Ceiling(), int64(4))
	assert.Equal(t, int64(0), s.Active())
	assert.Equal(t, int64(3), s.Completed())
}

func TestConcurrencyState_CappedAndMonotonic(t *testing.T) {
	s := NewConcurrencyState(3, 10, 1.2)

	prev := s.Ceiling()
	for i := 0; i < 200; i++ {
		s.launch()
		s.finish(i%5 != 0)
		c := s.Ceiling()
		assert.GreaterOrEqual(t, c, prev)
		assert.LessOrEqual(t, c, int64(10))
		prev = c
	}
	assert.Equal(t, int64(10), s.Ceiling())
	assert.Equal(t, int64(40), s.Failed())
}

func TestConcurrencyState_FailuresDoNotGrow(t *testing.T) {
	s := NewConcurrencyState(2, 8, 2)
	for i := 0; i < 10; i++ {
		s.launch()
		_, grown := s.finish(false)
		assert.Zero(t, grown)
	}
	assert.Equal(t, int64(2), s.Ceiling())
}

func TestConcurrencyState_ConcurrentCompletions(t *testing.T) {
	s := NewConcurrencyState(1, 50, 1.5)

	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		s.launch()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.finish(true)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), s.Active())
	assert.Equal(t, int64(500), s.Completed())
	assert.Equal(t, int64(50), s.Ceiling())
}

func TestConcurrencyState_Clamping(t *testing.T) {
	tests := []struct {
		name        string
		coldStart   int
		max         int
		factor      float64
		wantCeiling int64
	}{
		{"cold start above max", 10, 4, 1.2, 4},
		{"zero cold start", 0, 4, 1.2, 1},
		{"zero max", 3, 0, 1.2, 1},
		{"shrinking factor", 3, 4, 0.5, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewConcurrencyState(tt.coldStart, tt.max, tt.factor)
			assert.Equal(t, tt.wantCeiling, s.Ceiling())
		})
	}
}

func TestConcurrencyState_Saturated(t *testing.T) {
	s := NewConcurrencyState(2, 2, 1.2)
	assert.False(t, s.Saturated())
	s.launch()
	s.launch()
	assert.True(t, s.Saturated())
	s.finish(false)
	assert.False(t, s.Saturated())
}

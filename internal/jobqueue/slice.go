package jobqueue

import "time"

// Slice is the time budget granted to a single Run call.
// Long-running runners poll OutOfTime and yield by returning (false, nil).
type Slice struct {
	clock  Clock
	start  time.Time
	budget time.Duration
}

func newSlice(clock Clock, budget time.Duration) *Slice {
	return &Slice{
		clock:  clock,
		start:  clock.Now(),
		budget: budget,
	}
}

// NewSlice builds a standalone slice, mostly useful for driving a runner in tests
func NewSlice(clock Clock, budget time.Duration) *Slice {
	if clock == nil {
		clock = SystemClock
	}
	return newSlice(clock, budget)
}

// Budget returns the total time granted to this slice
func (s *Slice) Budget() time.Duration {
	return s.budget
}

// Elapsed returns the time spent since the slice started
func (s *Slice) Elapsed() time.Duration {
	return s.clock.Now().Sub(s.start)
}

// Remaining returns the unspent budget, never negative
func (s *Slice) Remaining() time.Duration {
	left := s.budget - s.Elapsed()
	if left < 0 {
		return 0
	}
	return left
}

// OutOfTime reports whether the slice budget has been spent
func (s *Slice) OutOfTime() bool {
	return s.Elapsed() >= s.budget
}

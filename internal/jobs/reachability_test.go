package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReachability(t *testing.T) {
	tests := []struct {
		name   string
		params ReachabilityParams
		want   int
	}{
		{
			name:   "open grid unlimited range",
			params: ReachabilityParams{Width: 4, Height: 4, Start: Point{0, 0}, Range: 100},
			want:   16,
		},
		{
			name:   "range limited diamond",
			params: ReachabilityParams{Width: 9, Height: 9, Start: Point{4, 4}, Range: 1},
			want:   5,
		},
		{
			name:   "walled off half",
			params: ReachabilityParams{Width: 3, Height: 3, Start: Point{0, 0}, Range: 10, Blocked: []Point{{1, 0}, {1, 1}, {1, 2}}},
			want:   3,
		},
		{
			name:   "blocked start",
			params: ReachabilityParams{Width: 3, Height: 3, Start: Point{0, 0}, Range: 10, Blocked: []Point{{0, 0}}},
			want:   0,
		},
		{
			name:   "zero range",
			params: ReachabilityParams{Width: 3, Height: 3, Start: Point{1, 1}, Range: 0},
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewReachabilityRunner(tt.params)
			require.NoError(t, err)

			runToCompletion(t, r, generous)

			assert.Equal(t, ReachabilityResult{Reachable: tt.want}, r.Result())
		})
	}
}

func TestReachability_Incremental(t *testing.T) {
	params := ReachabilityParams{Width: 40, Height: 40, Start: Point{0, 0}, Range: 1000}

	r, err := NewReachabilityRunner(params)
	require.NoError(t, err)

	runs := runToCompletion(t, r, exhausted)

	assert.Greater(t, runs, 1)
	assert.Equal(t, ReachabilityResult{Reachable: 1600}, r.Result())
}

package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
)

// KindReachability counts the cells reachable from a start cell within a step range
const KindReachability = "reachability"

const reachabilityCheckEvery = 16

const reachabilitySchema = `{
	"type": "object",
	"required": ["width", "height", "start", "range"],
	"properties": {
		"width": {"type": "integer", "minimum": 1, "maximum": 4096},
		"height": {"type": "integer", "minimum": 1, "maximum": 4096},
		"blocked": {"type": "array", "items": {"$ref": "#/$defs/point"}},
		"start": {"$ref": "#/$defs/point"},
		"range": {"type": "integer", "minimum": 0}
	},
	"$defs": {
		"point": {
			"type": "object",
			"required": ["x", "y"],
			"properties": {
				"x": {"type": "integer"},
				"y": {"type": "integer"}
			}
		}
	}
}`

// ReachabilityParams describes a flood-fill request
type ReachabilityParams struct {
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Blocked []Point `json:"blocked"`
	Start   Point   `json:"start"`
	Range   int     `json:"range"`
}

// ReachabilityResult is the output of a reachability job
type ReachabilityResult struct {
	Reachable int `json:"reachable"`
}

// ReachabilityRunner is a breadth-first flood fill spread across slices
type ReachabilityRunner struct {
	grid     *Grid
	maxRange int

	frontier []Point
	distance map[Point]int
	buf      []Point

	result ReachabilityResult
}

// NewReachabilityRunner validates params and seeds the fill
func NewReachabilityRunner(params ReachabilityParams) (*ReachabilityRunner, error) {
	grid, err := NewGrid(params.Width, params.Height, params.Blocked)
	if err != nil {
		return nil, err
	}
	if !grid.InBounds(params.Start) {
		return nil, fmt.Errorf("%w: start must lie on the grid", ErrInvalidParams)
	}

	r := &ReachabilityRunner{
		grid:     grid,
		maxRange: params.Range,
		distance: make(map[Point]int),
		buf:      make([]Point, 0, 4),
	}
	if grid.Passable(params.Start) {
		r.frontier = append(r.frontier, params.Start)
		r.distance[params.Start] = 0
		r.result.Reachable = 1
	}

	return r, nil
}

func buildReachability(raw json.RawMessage) (jobqueue.Runner, error) {
	var params ReachabilityParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return NewReachabilityRunner(params)
}

// Run visits cells until the frontier empties or the slice runs out
func (r *ReachabilityRunner) Run(s *jobqueue.Slice) (bool, error) {
	count := 0
	for len(r.frontier) > 0 {
		count++
		if count%reachabilityCheckEvery == 0 && s.OutOfTime() {
			return false, nil
		}

		current := r.frontier[0]
		r.frontier = r.frontier[1:]

		d := r.distance[current]
		if d >= r.maxRange {
			continue
		}
		for _, n := range r.grid.neighbours(current, r.buf) {
			if _, seen := r.distance[n]; seen {
				continue
			}
			r.distance[n] = d + 1
			r.frontier = append(r.frontier, n)
			r.result.Reachable++
		}
	}

	return true, nil
}

// Result returns the fill outcome; only meaningful once the job has finished
func (r *ReachabilityRunner) Result() any {
	return r.result
}

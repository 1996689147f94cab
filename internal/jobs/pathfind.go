package jobs

import (
	"container/heap"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/tickqueue/internal/jobqueue"
)

// KindPathfind is an incremental A* search over a tile grid
const KindPathfind = "pathfind"

// expansions between slice budget checks
const pathfindCheckEvery = 5

const pathfindSchema = `{
	"type": "object",
	"required": ["width", "height", "start", "goal"],
	"properties": {
		"width": {"type": "integer", "minimum": 1, "maximum": 4096},
		"height": {"type": "integer", "minimum": 1, "maximum": 4096},
		"blocked": {"type": "array", "items": {"$ref": "#/$defs/point"}},
		"start": {"$ref": "#/$defs/point"},
		"goal": {"$ref": "#/$defs/point"},
		"max_nodes": {"type": "integer", "minimum": 0}
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

// PathfindParams describes a pathfinding request
type PathfindParams struct {
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Blocked  []Point `json:"blocked"`
	Start    Point   `json:"start"`
	Goal     Point   `json:"goal"`
	MaxNodes int     `json:"max_nodes"`
}

// PathResult is the output of a pathfinding job
type PathResult struct {
	Found    bool    `json:"found"`
	Path     []Point `json:"path,omitempty"`
	Expanded int     `json:"expanded"`
}

type openNode struct {
	p   Point
	f   int
	seq int
}

type openSet []openNode

func (o openSet) Len() int { return len(o) }

func (o openSet) Less(i, k int) bool {
	if o[i].f == o[k].f {
		return o[i].seq < o[k].seq
	}
	return o[i].f < o[k].f
}

func (o openSet) Swap(i, k int) { o[i], o[k] = o[k], o[i] }

func (o *openSet) Push(x any) { *o = append(*o, x.(openNode)) }

func (o *openSet) Pop() any {
	old := *o
	n := old[len(old)-1]
	*o = old[:len(old)-1]
	return n
}

// PathfindRunner searches for a shortest 4-neighbour path, a few expansions at a time
type PathfindRunner struct {
	grid     *Grid
	start    Point
	goal     Point
	maxNodes int

	open     openSet
	gScore   map[Point]int
	cameFrom map[Point]Point
	closed   map[Point]bool
	pushed   int
	buf      []Point

	result PathResult
}

// NewPathfindRunner validates params and prepares the search
func NewPathfindRunner(params PathfindParams) (*PathfindRunner, error) {
	grid, err := NewGrid(params.Width, params.Height, params.Blocked)
	if err != nil {
		return nil, err
	}
	if !grid.InBounds(params.Start) || !grid.InBounds(params.Goal) {
		return nil, fmt.Errorf("%w: start and goal must lie on the grid", ErrInvalidParams)
	}

	r := &PathfindRunner{
		grid:     grid,
		start:    params.Start,
		goal:     params.Goal,
		maxNodes: params.MaxNodes,
		gScore:   map[Point]int{params.Start: 0},
		cameFrom: make(map[Point]Point),
		closed:   make(map[Point]bool),
		buf:      make([]Point, 0, 4),
	}
	if grid.Passable(params.Start) && grid.Passable(params.Goal) {
		r.push(params.Start, params.Start.Manhattan(params.Goal))
	}

	return r, nil
}

func buildPathfind(raw json.RawMessage) (jobqueue.Runner, error) {
	var params PathfindParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return NewPathfindRunner(params)
}

func (r *PathfindRunner) push(p Point, f int) {
	r.pushed++
	heap.Push(&r.open, openNode{p: p, f: f, seq: r.pushed})
}

// Run expands nodes until the goal is reached, the open set empties or the slice runs out
func (r *PathfindRunner) Run(s *jobqueue.Slice) (bool, error) {
	count := 0
	for r.open.Len() > 0 {
		count++
		if count%pathfindCheckEvery == 0 && s.OutOfTime() {
			return false, nil
		}

		current := heap.Pop(&r.open).(openNode).p
		if r.closed[current] {
			continue
		}
		if current == r.goal {
			r.result.Found = true
			r.result.Path = r.reconstruct()
			return true, nil
		}

		r.closed[current] = true
		r.result.Expanded++
		if r.maxNodes > 0 && r.result.Expanded >= r.maxNodes {
			return true, nil
		}

		g := r.gScore[current] + 1
		for _, n := range r.grid.neighbours(current, r.buf) {
			if r.closed[n] {
				continue
			}
			if old, ok := r.gScore[n]; ok && old <= g {
				continue
			}
			r.gScore[n] = g
			r.cameFrom[n] = current
			r.push(n, g+n.Manhattan(r.goal))
		}
	}

	return true, nil
}

func (r *PathfindRunner) reconstruct() []Point {
	path := []Point{r.goal}
	for p := r.goal; p != r.start; {
		p = r.cameFrom[p]
		path = append(path, p)
	}
	for i, k := 0, len(path)-1; i < k; i, k = i+1, k-1 {
		path[i], path[k] = path[k], path[i]
	}
	return path
}

// Result returns the search outcome; only meaningful once the job has finished
func (r *PathfindRunner) Result() any {
	return r.result
}

// Path returns the typed search outcome
func (r *PathfindRunner) Path() PathResult {
	return r.result
}

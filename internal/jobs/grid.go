package jobs

import "fmt"

// Point is a cell coordinate on a grid
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Manhattan returns the 4-neighbour distance between two points
func (p Point) Manhattan(o Point) int {
	return abs(p.X-o.X) + abs(p.Y-o.Y)
}

// Grid is a rectangular tile map with impassable cells
type Grid struct {
	width   int
	height  int
	blocked []bool
}

// NewGrid builds a width x height grid with the given cells blocked
func NewGrid(width, height int, blocked []Point) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: grid must be at least 1x1, got %dx%d", ErrInvalidParams, width, height)
	}

	g := &Grid{
		width:   width,
		height:  height,
		blocked: make([]bool, width*height),
	}
	for _, p := range blocked {
		if !g.InBounds(p) {
			return nil, fmt.Errorf("%w: blocked cell (%d,%d) outside grid", ErrInvalidParams, p.X, p.Y)
		}
		g.blocked[g.index(p)] = true
	}

	return g, nil
}

// Width returns the grid width
func (g *Grid) Width() int { return g.width }

// Height returns the grid height
func (g *Grid) Height() int { return g.height }

// InBounds reports whether p lies on the grid
func (g *Grid) InBounds(p Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.width && p.Y < g.height
}

// Passable reports whether p is on the grid and not blocked
func (g *Grid) Passable(p Point) bool {
	return g.InBounds(p) && !g.blocked[g.index(p)]
}

func (g *Grid) index(p Point) int {
	return p.Y*g.width + p.X
}

var directions = [4]Point{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}

// neighbours appends the passable 4-neighbours of p to buf
func (g *Grid) neighbours(p Point, buf []Point) []Point {
	buf = buf[:0]
	for _, d := range directions {
		n := Point{X: p.X + d.X, Y: p.Y + d.Y}
		if g.Passable(n) {
			buf = append(buf, n)
		}
	}
	return buf
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

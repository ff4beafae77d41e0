package domain

import "math"

// MaxCoordinate bounds positions accepted on the wire.
const MaxCoordinate = 1 << 20

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Grid is a square board of Size x Size cells, coordinates in [0, Size).
type Grid struct {
	Size int
}

func NewGrid(size int) Grid { return Grid{Size: size} }

func (g Grid) Contains(p Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < g.Size && p.Y < g.Size
}

// Clamp pulls p back onto the board. Used by the input side; the hub never clamps.
func (g Grid) Clamp(p Position) Position {
	return Position{X: clamp(p.X, 0, g.Size-1), Y: clamp(p.Y, 0, g.Size-1)}
}

// Step moves p by (dx, dy) and clamps the result.
func (g Grid) Step(p Position, dx, dy int) Position {
	return g.Clamp(Position{X: p.X + dx, Y: p.Y + dy})
}

// Manhattan returns |a.X-b.X| + |a.Y-b.Y|, saturating at math.MaxInt.
func Manhattan(a, b Position) int {
	d := absDiff(a.X, b.X) + absDiff(a.Y, b.Y)
	if d < absDiff(a.X, b.X) || d > math.MaxInt {
		return math.MaxInt
	}
	return int(d)
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	return min(max(v, lo), hi)
}

// absDiff never overflows: the true difference of two ints fits in a uint.
func absDiff(a, b int) uint {
	if a > b {
		return uint(a) - uint(b)
	}
	return uint(b) - uint(a)
}

// ════════════════════════════════════════════════════════════════════════════════════════════════
// Reference Partitioned Grid
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: Structured Mesh, Element Ids And Rank Ownership
//
// Description:
//   An axis-aligned box split into nx × ny × nz equal hexahedral cells. Cell ids are the
//   lexicographic index i + nx·(j + ny·k) and are the same on every rank. Ranks own contiguous
//   slabs of cells along x, so a ray only changes owner when it crosses an x face.
//
// Sides:
//   Each cell has six sides numbered -x, +x, -y, +y, -z, +z (0..5). Side s and s^1 are the two
//   faces of one axis, so the side a ray enters a neighbour through is the exit side ^ 1.
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package mesh

import (
	"errors"
	"fmt"
	"math"

	"raytrace/ray"
)

// Side numbers.
const (
	SideXMin uint32 = iota
	SideXMax
	SideYMin
	SideYMax
	SideZMin
	SideZMax
	NumSides
)

// Opposite is the side a neighbour shares with side s.
func Opposite(s uint32) uint32 { return s ^ 1 }

var (
	// ErrBadGrid reports an invalid grid shape or partition.
	ErrBadGrid = errors.New("mesh: invalid grid")
	// ErrNotOwned reports an element id that is not owned by the resolving rank.
	ErrNotOwned = errors.New("mesh: element not owned by this rank")
	// ErrOutside reports a point outside the grid.
	ErrOutside = errors.New("mesh: point outside the grid")
)

// Cell is one grid element. Only its id leaves the rank.
type Cell struct {
	id      ray.ElemID
	i, j, k int
}

func (c Cell) ID() ray.ElemID { return c.id }

// Index is the cell's (i, j, k) position.
func (c Cell) Index() [3]int { return [3]int{c.i, c.j, c.k} }

// Grid is immutable after NewGrid and safe to share between ranks.
type Grid struct {
	n        [3]int
	min, max ray.Point
	h        [3]float64
	ranks    int
}

// NewGrid creates a grid of n cells per axis over [min, max] split across
// ranks x-slabs.
func NewGrid(n [3]int, min, max ray.Point, ranks int) (*Grid, error) {
	for a := 0; a < 3; a++ {
		if n[a] <= 0 {
			return nil, fmt.Errorf("%w: %d cells on axis %d", ErrBadGrid, n[a], a)
		}
		if !(max.At(a) > min.At(a)) {
			return nil, fmt.Errorf("%w: empty extent on axis %d", ErrBadGrid, a)
		}
	}
	if ranks <= 0 || ranks > n[0] {
		return nil, fmt.Errorf("%w: %d ranks over %d x-cells", ErrBadGrid, ranks, n[0])
	}
	if uint64(n[0])*uint64(n[1])*uint64(n[2]) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: too many cells", ErrBadGrid)
	}
	g := &Grid{n: n, min: min, max: max, ranks: ranks}
	for a := 0; a < 3; a++ {
		g.h[a] = (max.At(a) - min.At(a)) / float64(n[a])
	}
	return g, nil
}

// Dims is the number of cells per axis.
func (g *Grid) Dims() [3]int { return g.n }

// Ranks is the number of partitions.
func (g *Grid) Ranks() int { return g.ranks }

// NumCells is the total number of cells.
func (g *Grid) NumCells() int { return g.n[0] * g.n[1] * g.n[2] }

// Bounds is the grid's bounding box.
func (g *Grid) Bounds() (min, max ray.Point) { return g.min, g.max }

// MaxLength is the longest segment that fits inside the grid: its diagonal.
func (g *Grid) MaxLength() float64 { return g.max.Sub(g.min).Length() }

// Cell returns the cell at (i, j, k).
func (g *Grid) Cell(i, j, k int) (Cell, bool) {
	if i < 0 || j < 0 || k < 0 || i >= g.n[0] || j >= g.n[1] || k >= g.n[2] {
		return Cell{}, false
	}
	return Cell{id: ray.ElemID(i + g.n[0]*(j+g.n[1]*k)), i: i, j: j, k: k}, true
}

// CellByID returns the cell with the given id.
func (g *Grid) CellByID(id ray.ElemID) (Cell, bool) {
	if uint64(id) >= uint64(g.NumCells()) {
		return Cell{}, false
	}
	v := int(id)
	return Cell{id: id, i: v % g.n[0], j: v / g.n[0] % g.n[1], k: v / (g.n[0] * g.n[1])}, true
}

// Locate returns the cell containing p. Points on a shared face belong to
// the cell on the + side, except on the grid's max faces.
func (g *Grid) Locate(p ray.Point) (Cell, error) {
	var idx [3]int
	for a := 0; a < 3; a++ {
		v := p.At(a)
		if !(v >= g.min.At(a) && v <= g.max.At(a)) {
			return Cell{}, fmt.Errorf("%w: %v", ErrOutside, p)
		}
		idx[a] = min(int((v-g.min.At(a))/g.h[a]), g.n[a]-1)
	}
	c, _ := g.Cell(idx[0], idx[1], idx[2])
	return c, nil
}

// Owner is the rank owning cell c.
func (g *Grid) Owner(c Cell) int { return c.i * g.ranks / g.n[0] }

// OwnerOf is the rank owning the cell with the given id, or -1.
func (g *Grid) OwnerOf(id ray.ElemID) int {
	c, ok := g.CellByID(id)
	if !ok {
		return -1
	}
	return g.Owner(c)
}

// Box is the cell's bounding box.
func (g *Grid) Box(c Cell) (lo, hi ray.Point) {
	lo = ray.NewPoint(
		g.min.X+float64(c.i)*g.h[0],
		g.min.Y+float64(c.j)*g.h[1],
		g.min.Z+float64(c.k)*g.h[2],
	)
	hi = ray.NewPoint(
		g.min.X+float64(c.i+1)*g.h[0],
		g.min.Y+float64(c.j+1)*g.h[1],
		g.min.Z+float64(c.k+1)*g.h[2],
	)
	return lo, hi
}

// neighbour returns the cell across side s of c.
func (g *Grid) neighbour(c Cell, s uint32) (Cell, bool) {
	idx := c.Index()
	if s&1 == 0 {
		idx[s/2]--
	} else {
		idx[s/2]++
	}
	return g.Cell(idx[0], idx[1], idx[2])
}

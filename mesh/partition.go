package mesh

import (
	"fmt"

	"raytrace/localidx"
	"raytrace/ray"
)

// Partition is one rank's slab of a Grid. It resolves only the cells the
// rank owns. Read-only after construction.
type Partition struct {
	grid  *Grid
	rank  int
	cells []Cell
	index *localidx.Hash
}

// Partition builds the element index of rank.
func (g *Grid) Partition(rank int) (*Partition, error) {
	if rank < 0 || rank >= g.ranks {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrBadGrid, rank, g.ranks)
	}
	lo := (rank*g.n[0] + g.ranks - 1) / g.ranks
	hi := ((rank+1)*g.n[0] + g.ranks - 1) / g.ranks

	p := &Partition{
		grid:  g,
		rank:  rank,
		cells: make([]Cell, 0, (hi-lo)*g.n[1]*g.n[2]),
	}
	for k := 0; k < g.n[2]; k++ {
		for j := 0; j < g.n[1]; j++ {
			for i := lo; i < hi; i++ {
				c, _ := g.Cell(i, j, k)
				p.cells = append(p.cells, c)
			}
		}
	}
	p.index = localidx.New(len(p.cells))
	for slot, c := range p.cells {
		p.index.Put(uint64(c.id), uint32(slot))
	}
	return p, nil
}

func (p *Partition) Grid() *Grid   { return p.grid }
func (p *Partition) Rank() int     { return p.rank }
func (p *Partition) Cells() []Cell { return p.cells }
func (p *Partition) Len() int      { return len(p.cells) }

// Owns reports whether the rank owns the element.
func (p *Partition) Owns(id ray.ElemID) bool {
	_, ok := p.index.Get(uint64(id))
	return ok
}

// Lookup returns the local cell with the given id.
func (p *Partition) Lookup(id ray.ElemID) (Cell, bool) {
	slot, ok := p.index.Get(uint64(id))
	if !ok {
		return Cell{}, false
	}
	return p.cells[slot], true
}

// Resolve implements the wire resolver: the element must be local.
func (p *Partition) Resolve(id ray.ElemID) (ray.Elem, error) {
	c, ok := p.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: element %d on rank %d (owner %d)", ErrNotOwned, id, p.rank, p.grid.OwnerOf(id))
	}
	return c, nil
}

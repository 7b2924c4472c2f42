package mesh

import (
	"errors"
	"fmt"
	"math"

	"raytrace/ray"
	"raytrace/trace"
)

// ErrNoElem reports a ray stepped without a starting element.
var ErrNoElem = errors.New("mesh: ray has no starting element")

// tieEps is the relative tolerance under which two face distances count as
// one corner or edge exit.
const tieEps = 1e-12

// Kernel is called once per traversed segment, after the counters moved.
// It may change the ray's payload but must not change its geometry.
type Kernel func(r *ray.Ray, c Cell, length float64)

// StepperOptions tunes a Stepper.
type StepperOptions struct {
	// Kernel runs per segment; nil skips it.
	Kernel Kernel
	// Weight scales each segment's contribution to the integrated
	// distance. It must return finite non-negative values; nil means 1.
	Weight func(c Cell) float64
}

// Stepper walks rays through one Partition, one cell per call, using
// the cells' faces as the only intersection tests.
type Stepper struct {
	part    *Partition
	opts    StepperOptions
	touched SideSet
}

var _ trace.Stepper = (*Stepper)(nil)

// NewStepper creates a stepper. Each worker needs its own.
func (p *Partition) NewStepper(opts StepperOptions) *Stepper {
	return &Stepper{part: p, opts: opts}
}

// Step traces r across its starting cell. The ray terminates inside the
// cell when its end lies there, or at the grid boundary; otherwise it is
// moved onto the entry point of the next cell, which may belong to
// another rank.
func (s *Stepper) Step(r *ray.Ray) (trace.Step, error) {
	elem := r.StartingElem()
	if elem == nil {
		return trace.Step{}, ErrNoElem
	}
	c, ok := s.part.Lookup(elem.ID())
	if !ok {
		return trace.Step{}, fmt.Errorf("%w: element %d on rank %d", ErrNotOwned, elem.ID(), s.part.rank)
	}

	start, end := r.Start(), r.End()
	d := end.Sub(start)
	t, exit := s.exit(c, start, d)

	if t >= 1 || s.touched.Empty() {
		s.segment(r, c, d.Length())
		r.SetEndsWithinMesh(true)
		r.SetShouldContinue(false)
		return trace.Step{Kind: trace.Terminated, Side: r.IncomingSide(), Owner: s.part.rank}, nil
	}

	s.segment(r, c, d.Length()*t)
	next, inside := c, true
	for _, side := range s.touched.Sides() {
		if next, inside = s.part.grid.neighbour(next, side); !inside {
			break
		}
	}
	primary := s.touched.Sides()[0]
	r.SetStart(exit)

	if !inside {
		r.SetEndsWithinMesh(false)
		r.SetShouldContinue(false)
		return trace.Step{Kind: trace.Terminated, Side: primary, Owner: s.part.rank}, nil
	}

	r.SetStartingElem(next)
	r.SetIncomingSide(Opposite(primary))
	owner := s.part.grid.Owner(next)
	if owner != s.part.rank {
		return trace.Step{Kind: trace.Crossed, Side: primary, Owner: owner}, nil
	}
	return trace.Step{Kind: trace.Continued, Side: primary, Owner: owner}, nil
}

// exit finds the segment parameter at which start+t·d leaves c and the
// snapped exit point. The sides it leaves through are left in s.touched.
// t is +Inf when d is zero.
func (s *Stepper) exit(c Cell, start, d ray.Point) (float64, ray.Point) {
	lo, hi := s.part.grid.Box(c)
	t := math.Inf(1)
	var bounds [3]float64
	s.touched.Clear()

	for a := 0; a < 3; a++ {
		da := d.At(a)
		if da == 0 {
			continue
		}
		bound, side := lo.At(a), uint32(2*a)
		if da > 0 {
			bound, side = hi.At(a), uint32(2*a+1)
		}
		bounds[a] = bound
		ta := max((bound-start.At(a))/da, 0)
		switch {
		case ta < t*(1-tieEps):
			t = ta
			s.touched.Clear()
			s.touched.Insert(side)
		case ta <= t*(1+tieEps):
			s.touched.Insert(side)
		}
	}
	if t >= 1 {
		return t, ray.Point{}
	}

	p := [3]float64{start.X + d.X*t, start.Y + d.Y*t, start.Z + d.Z*t}
	for _, side := range s.touched.Sides() {
		p[side/2] = bounds[side/2]
	}
	return t, ray.NewPoint(p[0], p[1], p[2])
}

func (s *Stepper) segment(r *ray.Ray, c Cell, length float64) {
	r.AddIntersections(1)
	r.AddDistance(length)
	w := 1.0
	if s.opts.Weight != nil {
		w = s.opts.Weight(c)
	}
	r.AddIntegratedDistance(length * w)
	if s.opts.Kernel != nil {
		s.opts.Kernel(r, c, length)
	}
}

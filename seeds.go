package main

import (
	"math"
	"math/rand/v2"

	"raytrace/config"
	"raytrace/constants"
	"raytrace/mesh"
	"raytrace/ray"
	"raytrace/trace"
)

// escapeShare is the fraction of seeds aimed out of the grid rather than at
// a point inside it.
const escapeShare = 0.5

// generateSeeds draws cfg.Episode.Rays seeds for one rank. Every seed
// starts inside a cell the rank owns. The draw depends only on the
// configured seed and the rank.
func generateSeeds(part *mesh.Partition, cfg config.Config) []trace.Seed {
	g := part.Grid()
	rank := part.Rank()
	rng := rand.New(rand.NewPCG(uint64(cfg.Episode.Seed), uint64(rank)))
	lo, hi := g.Bounds()
	reach := g.MaxLength()
	polar := polarQuadrature(cfg.Wire.PolarLen)
	cells := part.Cells()

	seeds := make([]trace.Seed, 0, cfg.Episode.Rays)
	for range cfg.Episode.Rays {
		c := cells[rng.IntN(len(cells))]
		clo, chi := g.Box(c)
		start := inside(rng, clo, chi)

		var end ray.Point
		if rng.Float64() < escapeShare {
			end = start.Add(direction(rng).Scale(reach))
		} else {
			end = inside(rng, lo, hi)
		}
		d := end.Sub(start)

		s := trace.Seed{
			Start:   start,
			End:     end,
			DataLen: cfg.Wire.DataLen,
			Elem:    c,
			Side:    constants.InvalidSide,
			Angular: &trace.Angular{
				Angle:        math.Atan2(d.Y, d.X),
				Spacing:      1,
				Weight:       1 / float64(max(cfg.Episode.Rays, 1)),
				PolarSpacing: 1,
				PolarSins:    polar.sins,
				PolarWeights: polar.weights,
			},
		}
		if cfg.Episode.Reverse {
			if ec, err := g.Locate(end); err == nil && g.Owner(ec) == rank {
				s.ReverseElem = ec
			}
		}
		seeds = append(seeds, s)
	}
	return seeds
}

// inside draws a point from the interior of the box, away from its faces.
func inside(rng *rand.Rand, lo, hi ray.Point) ray.Point {
	u := func(a, b float64) float64 { return a + (b-a)*(0.01+0.98*rng.Float64()) }
	return ray.NewPoint(u(lo.X, hi.X), u(lo.Y, hi.Y), u(lo.Z, hi.Z))
}

// direction draws a unit vector uniformly on the sphere.
func direction(rng *rand.Rand) ray.Point {
	z := 2*rng.Float64() - 1
	phi := 2 * math.Pi * rng.Float64()
	r := math.Sqrt(1 - z*z)
	return ray.NewPoint(r*math.Cos(phi), r*math.Sin(phi), z)
}

type quadrature struct{ sins, weights []float64 }

// polarQuadrature spaces n polar angles evenly over (0, π/2) with equal
// weights.
func polarQuadrature(n int) quadrature {
	q := quadrature{sins: make([]float64, n), weights: make([]float64, n)}
	for i := range n {
		theta := (float64(i) + 0.5) * math.Pi / (2 * float64(n))
		q.sins[i] = math.Sin(theta)
		q.weights[i] = 1 / float64(n)
	}
	return q
}

package ray

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raytrace/constants"
)

type testElem ElemID

func (e testElem) ID() ElemID { return ElemID(e) }

// ============================================================================
// CONSTRUCTION & RESET
// ============================================================================

func TestNew_ZeroFilledPayload(t *testing.T) {
	r := New(NewPoint(0, 0, 0), NewPoint(1, 0, 0), 3, testElem(7), constants.InvalidSide)

	assert.Equal(t, []float64{0, 0, 0}, r.Data())
	assert.True(t, r.ShouldContinue())
	assert.False(t, r.IsReverse())
	assert.False(t, r.EndsWithinMesh())
	assert.True(t, r.StartsInside())
	assert.False(t, r.HasID())
	assert.Equal(t, ElemID(7), r.StartingElem().ID())
	assert.Equal(t, constants.DefaultAzimuthalSpacing, r.AzimuthalSpacing())
	assert.Equal(t, constants.DefaultAzimuthalWeight, r.AzimuthalWeight())
	assert.Equal(t, constants.DefaultPolarSpacing, r.PolarSpacing())
}

func TestNewWithData_CopiesPayload(t *testing.T) {
	src := []float64{1, 2}
	r := NewWithData(NewPoint(0, 0, 0), NewPoint(1, 0, 0), src, nil, 2)
	src[0] = 99

	assert.Equal(t, []float64{1, 2}, r.Data())
	assert.Equal(t, uint32(2), r.IncomingSide())
	assert.False(t, r.StartsInside())
}

func TestReset_ClearsEveryField(t *testing.T) {
	r := New(NewPoint(1, 2, 3), NewPoint(4, 5, 6), 4, testElem(1), 3)
	r.SetID(11)
	r.AddProcessorCrossing()
	r.AddIntersections(5)
	r.AddDistance(2.5)
	r.AddIntegratedDistance(1.5)
	r.SetShouldContinue(false)
	r.SetEndsWithinMesh(true)
	r.SetIsReverse(true)
	r.SetAzimuthalAngle(0.3)
	r.SetAzimuthalSpacing(0.1)
	r.SetAzimuthalWeight(0.2)
	r.SetPolarSpacing(0.4)
	require.NoError(t, r.SetPolar([]float64{0.5, 0.6}, []float64{0.7, 0.8}))

	r.Reset(NewPoint(0, 0, 0), NewPoint(0, 0, 1), 2, 9, testElem(2), constants.InvalidSide)

	assert.Equal(t, []float64{9, 9}, r.Data())
	assert.Equal(t, Counters{}, r.Counters())
	assert.True(t, r.ShouldContinue())
	assert.False(t, r.EndsWithinMesh())
	assert.False(t, r.IsReverse())
	assert.False(t, r.HasID())
	assert.Zero(t, r.AzimuthalAngle())
	assert.Equal(t, constants.DefaultAzimuthalSpacing, r.AzimuthalSpacing())
	assert.Equal(t, constants.DefaultAzimuthalWeight, r.AzimuthalWeight())
	assert.Equal(t, constants.DefaultPolarSpacing, r.PolarSpacing())
	assert.Empty(t, r.PolarSins())
	assert.Empty(t, r.PolarWeights())
	assert.Equal(t, NewPoint(0, 0, 1), r.End())
	assert.Equal(t, ElemID(2), r.StartingElem().ID())
}

func TestReset_ReusesPayloadCapacity(t *testing.T) {
	r := New(Point{}, Point{}, 64, nil, constants.InvalidSide)
	before := cap(r.Data())

	r.Reset(Point{}, Point{}, 8, 1, nil, constants.InvalidSide)
	assert.Len(t, r.Data(), 8)
	assert.Equal(t, before, cap(r.Data()))

	r.ResetWithData(Point{}, Point{}, []float64{4, 5, 6}, nil, constants.InvalidSide)
	assert.Equal(t, []float64{4, 5, 6}, r.Data())
	assert.Equal(t, before, cap(r.Data()))
}

func TestReset_NegativeSizePanics(t *testing.T) {
	r := &Ray{}
	assert.Panics(t, func() { r.Reset(Point{}, Point{}, -1, 0, nil, 0) })
}

func TestResetCounters_LeavesGeometry(t *testing.T) {
	r := New(NewPoint(1, 1, 1), NewPoint(2, 2, 2), 1, nil, constants.InvalidSide)
	r.AddDistance(3)
	r.ResetCounters()

	assert.Zero(t, r.Distance())
	assert.Equal(t, NewPoint(1, 1, 1), r.Start())
}

// ============================================================================
// COUNTERS
// ============================================================================

func TestCounters_Monotone(t *testing.T) {
	r := New(Point{}, NewPoint(1, 0, 0), 0, nil, constants.InvalidSide)

	var last Counters
	for i := 0; i < 100; i++ {
		if i%7 == 0 {
			r.AddProcessorCrossing()
		}
		r.AddIntersections(uint64(i % 3))
		r.AddDistance(float64(i) * 0.01)
		r.AddIntegratedDistance(float64(i%5) * 0.02)

		c := r.Counters()
		require.GreaterOrEqual(t, c.ProcessorCrossings, last.ProcessorCrossings)
		require.GreaterOrEqual(t, c.Intersections, last.Intersections)
		require.GreaterOrEqual(t, c.Distance, last.Distance)
		require.GreaterOrEqual(t, c.IntegratedDistance, last.IntegratedDistance)
		last = c
	}
}

func TestCounters_RejectDecreasingIncrements(t *testing.T) {
	r := New(Point{}, NewPoint(1, 0, 0), 0, nil, constants.InvalidSide)

	for _, d := range []float64{-1, math.NaN(), math.Inf(1)} {
		assert.Panics(t, func() { r.AddDistance(d) }, "AddDistance(%v)", d)
		assert.Panics(t, func() { r.AddIntegratedDistance(d) }, "AddIntegratedDistance(%v)", d)
	}
	assert.Zero(t, r.Distance())
}

// ============================================================================
// ANGULAR METADATA
// ============================================================================

func TestSetPolar_RejectsUnpairedLengths(t *testing.T) {
	r := New(Point{}, Point{}, 0, nil, constants.InvalidSide)
	require.NoError(t, r.SetPolar([]float64{1}, []float64{2}))

	err := r.SetPolar([]float64{1, 2}, []float64{3})
	require.ErrorIs(t, err, ErrPolarLength)

	// the previous pair is left untouched
	assert.Equal(t, []float64{1}, r.PolarSins())
	assert.Equal(t, []float64{2}, r.PolarWeights())
}

func TestSetPolar_Copies(t *testing.T) {
	sins, weights := []float64{0.5}, []float64{0.25}
	r := New(Point{}, Point{}, 0, nil, constants.InvalidSide)
	require.NoError(t, r.SetPolar(sins, weights))
	sins[0] = 9

	assert.Equal(t, 0.5, r.PolarSins()[0])
}

// ============================================================================
// REVERSAL
// ============================================================================

func reversible() *Ray {
	r := NewWithData(NewPoint(0, 1, 2), NewPoint(3, 4, 5), []float64{1, 2, 3}, testElem(4), 1)
	r.SetID(5)
	r.AddDistance(7)
	r.AddIntersections(2)
	r.AddProcessorCrossing()
	r.SetAzimuthalAngle(0.75)
	r.SetAzimuthalSpacing(0.5)
	r.SetAzimuthalWeight(0.25)
	r.SetPolarSpacing(0.125)
	_ = r.SetPolar([]float64{0.1, 0.2}, []float64{0.3, 0.4})
	return r
}

func TestReverse_SwapsGeometryAndCopiesAngular(t *testing.T) {
	r := reversible()
	rev := r.Reverse()

	assert.Equal(t, r.End(), rev.Start())
	assert.Equal(t, r.Start(), rev.End())
	assert.Equal(t, []float64{0, 0, 0}, rev.Data())
	assert.True(t, rev.IsReverse())
	assert.Equal(t, Counters{}, rev.Counters())
	assert.False(t, rev.HasID())
	assert.Nil(t, rev.StartingElem())
	assert.Equal(t, r.AzimuthalAngle(), rev.AzimuthalAngle())
	assert.Equal(t, r.AzimuthalSpacing(), rev.AzimuthalSpacing())
	assert.Equal(t, r.AzimuthalWeight(), rev.AzimuthalWeight())
	assert.Equal(t, r.PolarSpacing(), rev.PolarSpacing())
	assert.Equal(t, r.PolarSins(), rev.PolarSins())
	assert.Equal(t, r.PolarWeights(), rev.PolarWeights())

	// the copy is deep
	rev.PolarSins()[0] = 42
	assert.Equal(t, 0.1, r.PolarSins()[0])
}

func TestReverse_Twice(t *testing.T) {
	r := reversible()
	back := r.Reverse().Reverse()

	assert.Equal(t, r.Start(), back.Start())
	assert.Equal(t, r.End(), back.End())
	assert.Equal(t, Counters{}, back.Counters())
	assert.Len(t, back.Data(), len(r.Data()))
}

func TestReverseInto_ReusesDestination(t *testing.T) {
	r := reversible()
	dst := reversible()
	dst.SetShouldContinue(false)

	r.ReverseInto(dst)
	assert.True(t, dst.ShouldContinue())
	assert.Equal(t, r.Start(), dst.End())
	assert.Equal(t, Counters{}, dst.Counters())

	assert.Panics(t, func() { r.ReverseInto(r) })
}

// ============================================================================
// EQUALITY
// ============================================================================

func TestEqual(t *testing.T) {
	a, b := reversible(), reversible()
	require.True(t, a.Equal(b))

	// azimuthal angle does not take part
	b.SetAzimuthalAngle(9)
	assert.True(t, a.Equal(b))

	cases := map[string]func(r *Ray){
		"id":       func(r *Ray) { r.SetID(6) },
		"start":    func(r *Ray) { r.SetStart(NewPoint(9, 9, 9)) },
		"elem":     func(r *Ray) { r.SetStartingElem(testElem(99)) },
		"nil elem": func(r *Ray) { r.SetStartingElem(nil) },
		"payload":  func(r *Ray) { r.Data()[1] = -1 },
		"distance": func(r *Ray) { r.AddDistance(1) },
		"flag":     func(r *Ray) { r.SetEndsWithinMesh(true) },
		"polar":    func(r *Ray) { _ = r.SetPolar(nil, nil) },
		"weight":   func(r *Ray) { r.SetAzimuthalWeight(2) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := reversible()
			mutate(c)
			assert.False(t, a.Equal(c))
		})
	}

	assert.False(t, a.Equal(nil))
}

func TestEqual_NaNPayload(t *testing.T) {
	a := NewWithData(Point{}, Point{}, []float64{math.NaN()}, nil, 0)
	b := NewWithData(Point{}, Point{}, []float64{math.NaN()}, nil, 0)
	assert.True(t, a.Equal(b))
}

func TestEqual_SignedZero(t *testing.T) {
	a := NewWithData(Point{}, Point{}, []float64{0}, nil, 0)
	b := NewWithData(Point{}, Point{}, []float64{math.Copysign(0, -1)}, nil, 0)
	assert.False(t, a.Equal(b))
	assert.False(t, Point{}.Equal(Point{Y: math.Copysign(0, -1)}))
	assert.True(t, b.Equal(NewWithData(Point{}, Point{}, []float64{math.Copysign(0, -1)}, nil, 0)))
}

func TestPoint(t *testing.T) {
	p, q := NewPoint(1, 2, 3), NewPoint(4, 6, 3)
	assert.Equal(t, NewPoint(3, 4, 0), q.Sub(p))
	assert.Equal(t, 5.0, q.Sub(p).Length())
	assert.Equal(t, NewPoint(2.5, 4, 3), p.Lerp(q, 0.5))
	assert.Equal(t, 2.0, p.At(1))
	assert.True(t, p.Equal(NewPoint(1, 2, 3)))
}

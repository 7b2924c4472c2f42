package wire

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raytrace/constants"
	"raytrace/ray"
)

// ============================================================================
// FIXTURES
// ============================================================================

type cell ray.ElemID

func (c cell) ID() ray.ElemID { return ray.ElemID(c) }

// owned resolves ids below 100.
var owned = ResolverFunc(func(id ray.ElemID) (ray.Elem, error) {
	if id >= 100 {
		return nil, fmt.Errorf("element %d not on this rank", id)
	}
	return cell(id), nil
})

func fullRay() *ray.Ray {
	r := ray.NewWithData(ray.NewPoint(0.5, -1.25, 3), ray.NewPoint(9, 8, 7), []float64{1.5, -2, 0, 4e10}, cell(17), 3)
	r.SetID(7<<constants.RankShift | 12)
	r.AddProcessorCrossing()
	r.AddProcessorCrossing()
	r.AddIntersections(11)
	r.AddDistance(2.75)
	r.AddIntegratedDistance(0.125)
	r.SetEndsWithinMesh(true)
	r.SetAzimuthalAngle(0.3)
	r.SetAzimuthalSpacing(0.25)
	r.SetAzimuthalWeight(0.5)
	r.SetPolarSpacing(0.75)
	if err := r.SetPolar([]float64{0.1, 0.2, 0.3}, []float64{1, 2, 3}); err != nil {
		panic(err)
	}
	return r
}

// ============================================================================
// ROUND TRIP
// ============================================================================

func TestRoundTrip(t *testing.T) {
	src := fullRay()
	buf, err := Pack(nil, src)
	require.NoError(t, err)
	require.Len(t, buf, PackableSize(src))

	n, err := PackedSize(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	dst := ray.New(ray.Point{}, ray.Point{}, 9, nil, 0)
	dst.SetAzimuthalAngle(42)
	got, err := NewDecoder(owned, AnySchema).Unpack(buf, dst)
	require.NoError(t, err)
	assert.Equal(t, len(buf), got)
	assert.True(t, src.Equal(dst))

	// the angle never travels: the receiver holds the reset value
	assert.Zero(t, dst.AzimuthalAngle())
}

func TestRoundTrip_FlagsAndReverse(t *testing.T) {
	for _, tc := range []struct{ reverse, cont, inside bool }{
		{false, false, false},
		{true, true, false},
		{true, false, true},
		{false, true, true},
	} {
		src := fullRay()
		src.SetIsReverse(tc.reverse)
		src.SetShouldContinue(tc.cont)
		src.SetEndsWithinMesh(tc.inside)
		buf, err := Pack(nil, src)
		require.NoError(t, err)

		dst := &ray.Ray{}
		_, err = NewDecoder(owned, AnySchema).Unpack(buf, dst)
		require.NoError(t, err)
		assert.True(t, src.Equal(dst), "%+v", tc)
	}
}

// randomRay fills every travelling field from rng. Lengths include 0, and
// integral fields and scalars are drawn from edge values as well as noise.
func randomRay(rng *rand.Rand) *ray.Ray {
	negZero := math.Copysign(0, -1)
	edges := []float64{0, negZero, 1, -1, math.SmallestNonzeroFloat64, math.MaxFloat64, -1e300, 1e-300}
	pick := func() float64 {
		if rng.IntN(3) == 0 {
			return edges[rng.IntN(len(edges))]
		}
		return rng.NormFloat64() * 1e3
	}
	bigs := []uint64{0, 1, constants.MaxExactInteger - 1, constants.MaxExactInteger}
	count := func() uint64 {
		if rng.IntN(2) == 0 {
			return bigs[rng.IntN(len(bigs))]
		}
		return rng.Uint64N(1 << 40)
	}

	lens := []int{0, 1, 2, 7, 64}
	data := make([]float64, lens[rng.IntN(len(lens))])
	for i := range data {
		data[i] = pick()
	}
	sides := []uint32{0, 5, constants.InvalidSide, math.MaxUint32 - 1}

	r := ray.NewWithData(ray.NewPoint(pick(), pick(), pick()), ray.NewPoint(pick(), pick(), pick()),
		data, cell(rng.IntN(100)), sides[rng.IntN(len(sides))])
	r.SetID(count())
	r.SetCounters(ray.Counters{
		ProcessorCrossings: count(),
		Intersections:      count(),
		Distance:           math.Abs(pick()),
		IntegratedDistance: edges[rng.IntN(2)],
	})
	r.SetShouldContinue(rng.IntN(2) == 0)
	r.SetEndsWithinMesh(rng.IntN(2) == 0)
	r.SetIsReverse(rng.IntN(2) == 0)
	r.SetAzimuthalSpacing(pick())
	r.SetAzimuthalWeight(pick())
	r.SetPolarSpacing(pick())

	sins := make([]float64, lens[rng.IntN(len(lens))])
	weights := make([]float64, len(sins))
	for i := range sins {
		sins[i], weights[i] = pick(), pick()
	}
	if err := r.SetPolar(sins, weights); err != nil {
		panic(err)
	}
	return r
}

func TestRoundTrip_Randomized(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	dec := NewDecoder(owned, AnySchema)
	dst := fullRay()
	var buf []float64

	for i := 0; i < 2000; i++ {
		src := randomRay(rng)
		var err error
		buf, err = Pack(buf[:0], src)
		require.NoError(t, err, "ray %d", i)
		require.Len(t, buf, PackableSize(src))

		n, err := dec.Unpack(buf, dst)
		require.NoError(t, err, "ray %d", i)
		require.Equal(t, len(buf), n)
		require.True(t, src.Equal(dst), "ray %d: %+v", i, src)
		for j, v := range src.Data() {
			require.Equal(t, math.Float64bits(v), math.Float64bits(dst.Data()[j]), "ray %d data[%d]", i, j)
		}
	}
}

func TestPack_DoesNotMutateSource(t *testing.T) {
	src := fullRay()
	snapshot := fullRay()
	_, err := Pack(make([]float64, 0, 2), src)
	require.NoError(t, err)
	assert.True(t, src.Equal(snapshot))
	assert.Equal(t, snapshot.AzimuthalAngle(), src.AzimuthalAngle())
}

func TestPack_AppendsAfterExisting(t *testing.T) {
	prefix := []float64{-1, -2}
	buf, err := Pack(prefix, fullRay())
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -2}, buf[:2])
	assert.Len(t, buf, 2+PackableSize(fullRay()))
}

// Two-value payload on element 42.
func TestScenario_TwoValuePayload(t *testing.T) {
	src := ray.NewWithData(ray.NewPoint(0, 0, 0), ray.NewPoint(1, 0, 0), []float64{1.0, 2.0}, cell(42), constants.InvalidSide)
	src.SetID(42)

	buf, err := Pack(nil, src)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 0}, buf[:3])
	assert.Equal(t, float64(42), buf[9])
	assert.Equal(t, float64(42), buf[idSlot])
	assert.Equal(t, []float64{1.0, 2.0}, buf[constants.WireHeaderLen:])

	dst := &ray.Ray{}
	_, err = NewDecoder(owned, Schema{DataLen: 2, PolarLen: 0}).Unpack(buf, dst)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), dst.ID())
	require.NotNil(t, dst.StartingElem())
	assert.Equal(t, ray.ElemID(42), dst.StartingElem().ID())
	assert.Equal(t, []float64{1.0, 2.0}, dst.Data())
	assert.True(t, dst.StartsInside())
	assert.True(t, src.Equal(dst))
}

func TestScenario_EmptyPayload(t *testing.T) {
	src := ray.New(ray.NewPoint(1, 1, 1), ray.NewPoint(2, 2, 2), 0, cell(0), 4)
	src.SetID(0)

	buf, err := Pack(nil, src)
	require.NoError(t, err)
	require.Len(t, buf, constants.WireHeaderLen)
	assert.Equal(t, []float64{0, 0, 0}, buf[:3])

	dst := &ray.Ray{}
	n, err := NewDecoder(owned, Schema{DataLen: 0, PolarLen: 0}).Unpack(buf, dst)
	require.NoError(t, err)
	assert.Equal(t, constants.WireHeaderLen, n)
	assert.Empty(t, dst.Data())
	assert.True(t, src.Equal(dst))
}

func TestInvalidSideTravelsUnsigned(t *testing.T) {
	src := fullRay()
	src.SetIncomingSide(constants.InvalidSide)
	buf, err := Pack(nil, src)
	require.NoError(t, err)
	assert.Equal(t, float64(4294967295), buf[11])
	assert.Equal(t, "incoming_side", header[11].name)
}

// ============================================================================
// HEADER LAYOUT
// ============================================================================

func TestHeaderOrder(t *testing.T) {
	want := []string{
		"data_len", "polar_sins_len", "polar_weights_len",
		"start.x", "start.y", "start.z", "end.x", "end.y", "end.z",
		"starting_elem", "ends_within_mesh", "incoming_side",
		"processor_crossings", "intersections", "distance", "integrated_distance",
		"azimuthal_spacing", "azimuthal_weight", "polar_spacing",
		"id", "is_reverse", "should_continue",
	}
	require.Len(t, header, len(want))
	for i, name := range want {
		assert.Equal(t, name, header[i].name, "slot %d", i)
	}
	assert.Equal(t, "id", header[idSlot].name)
}

func TestHeaderValues(t *testing.T) {
	src := fullRay()
	buf, err := Pack(nil, src)
	require.NoError(t, err)

	want := []float64{
		4, 3, 3,
		0.5, -1.25, 3, 9, 8, 7,
		17, 1, 3,
		2, 11, 2.75, 0.125,
		0.25, 0.5, 0.75,
		float64(src.ID()), 0, 1,
	}
	assert.Equal(t, want, buf[:constants.WireHeaderLen])
	assert.Equal(t, []float64{1.5, -2, 0, 4e10, 0.1, 0.2, 0.3, 1, 2, 3}, buf[constants.WireHeaderLen:])
}

// ============================================================================
// ENCODE FAILURES
// ============================================================================

func TestPack_Failures(t *testing.T) {
	t.Run("no element", func(t *testing.T) {
		r := fullRay()
		r.SetStartingElem(nil)
		buf, err := Pack([]float64{1}, r)
		assert.ErrorIs(t, err, ErrNoElem)
		assert.Equal(t, []float64{1}, buf)
	})
	t.Run("unassigned id", func(t *testing.T) {
		r := fullRay()
		r.SetID(ray.NoID)
		buf, err := Pack(nil, r)
		assert.ErrorIs(t, err, ErrUnrepresentable)
		var ee *EncodeError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "id", ee.Field)
		assert.Empty(t, buf)
	})
	t.Run("huge element id", func(t *testing.T) {
		r := fullRay()
		r.SetStartingElem(cell(constants.MaxExactInteger + 1))
		_, err := Pack(nil, r)
		assert.ErrorIs(t, err, ErrUnrepresentable)
	})
}

// ============================================================================
// DECODE FAILURES
// ============================================================================

func packed(t *testing.T, mutate func(*ray.Ray)) []float64 {
	t.Helper()
	r := fullRay()
	if mutate != nil {
		mutate(r)
	}
	buf, err := Pack(nil, r)
	require.NoError(t, err)
	return buf
}

func TestUnpack_LengthMismatch(t *testing.T) {
	buf := packed(t, nil)
	dst := &ray.Ray{}

	_, err := NewDecoder(owned, Schema{DataLen: 3, PolarLen: Any}).Unpack(buf, dst)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = NewDecoder(owned, Schema{DataLen: Any, PolarLen: 2}).Unpack(buf, dst)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.True(t, de.HasID)
	assert.Equal(t, fullRay().ID(), de.RayID)
}

func TestUnpack_PolarMismatchBeforeTail(t *testing.T) {
	buf := packed(t, nil)
	buf[2] = 2
	// tail is now one scalar too long but the header check fires first
	_, err := NewDecoder(owned, AnySchema).Unpack(buf, &ray.Ray{})
	assert.ErrorIs(t, err, ErrPolarLength)
	assert.ErrorIs(t, err, ray.ErrPolarLength)
}

func TestUnpack_Truncated(t *testing.T) {
	buf := packed(t, nil)

	_, err := NewDecoder(owned, AnySchema).Unpack(buf[:len(buf)-1], &ray.Ray{})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = NewDecoder(owned, AnySchema).Unpack(buf[:constants.WireHeaderLen-1], &ray.Ray{})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = PackedSize(buf[:5])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestUnpack_Malformed(t *testing.T) {
	tests := []struct {
		slot  int
		value float64
	}{
		{0, 1.5},
		{1, -1},
		{9, math.NaN()},
		{10, 0.5},
		{11, 4294967296},
		{12, math.Inf(1)},
		{19, constants.MaxExactInteger + 2},
		{20, 2},
		{21, -0.0001},
	}
	for _, tt := range tests {
		buf := packed(t, nil)
		buf[tt.slot] = tt.value
		_, err := NewDecoder(owned, AnySchema).Unpack(buf, &ray.Ray{})
		require.ErrorIs(t, err, ErrMalformed, "slot %d = %v", tt.slot, tt.value)
		var de *DecodeError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, header[tt.slot].name, de.Field)
		assert.Equal(t, tt.slot != idSlot, de.HasID, "slot %d", tt.slot)
	}
}

func TestUnpack_UnknownElem(t *testing.T) {
	buf := packed(t, func(r *ray.Ray) { r.SetStartingElem(cell(500)) })
	_, err := NewDecoder(owned, AnySchema).Unpack(buf, &ray.Ray{})
	require.ErrorIs(t, err, ErrUnknownElem)
	assert.Contains(t, err.Error(), "not on this rank")
}

func TestUnpack_ResolverErrorIsKept(t *testing.T) {
	sentinel := errors.New("index offline")
	res := ResolverFunc(func(ray.ElemID) (ray.Elem, error) { return nil, sentinel })
	_, err := NewDecoder(res, AnySchema).Unpack(packed(t, nil), &ray.Ray{})
	assert.ErrorIs(t, err, ErrUnknownElem)
	assert.ErrorIs(t, err, sentinel)
}

func TestUnpack_ReusedDestinationIsReinitialised(t *testing.T) {
	dst := fullRay()
	dst.AddIntersections(1000)

	src := ray.New(ray.NewPoint(0, 0, 0), ray.NewPoint(1, 1, 1), 1, cell(3), 0)
	src.SetID(1)
	buf, err := Pack(nil, src)
	require.NoError(t, err)

	_, err = NewDecoder(owned, AnySchema).Unpack(buf, dst)
	require.NoError(t, err)
	assert.True(t, src.Equal(dst))
	assert.Empty(t, dst.PolarSins())
	assert.Equal(t, constants.DefaultAzimuthalWeight, dst.AzimuthalWeight())
}

// ============================================================================
// BATCHES
// ============================================================================

func TestBatch(t *testing.T) {
	a := fullRay()
	b := ray.NewWithData(ray.NewPoint(1, 2, 3), ray.NewPoint(3, 2, 1), []float64{9}, cell(2), 1)
	b.SetID(2)
	c := fullRay()
	c.SetID(3)

	buf, err := PackBatch(nil, a, b, c)
	require.NoError(t, err)
	assert.Len(t, buf, PackableSize(a)+PackableSize(b)+PackableSize(c))

	var records int
	require.NoError(t, Split(buf, func(rec []float64) error {
		records++
		return nil
	}))
	assert.Equal(t, 3, records)

	var got []*ray.Ray
	n, err := NewDecoder(owned, AnySchema).UnpackBatch(buf, func() (*ray.Ray, error) {
		r := &ray.Ray{}
		got = append(got, r)
		return r, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, a.Equal(got[0]))
	assert.True(t, b.Equal(got[1]))
	assert.True(t, c.Equal(got[2]))
}

func TestPackBatch_RollsBackOnError(t *testing.T) {
	bad := fullRay()
	bad.SetStartingElem(nil)
	buf, err := PackBatch([]float64{5}, fullRay(), bad)
	assert.ErrorIs(t, err, ErrNoElem)
	assert.Equal(t, []float64{5}, buf)
}

func TestSplit_Truncated(t *testing.T) {
	buf, err := PackBatch(nil, fullRay(), fullRay())
	require.NoError(t, err)
	err = Split(buf[:len(buf)-3], func([]float64) error { return nil })
	assert.ErrorIs(t, err, ErrTruncated)
}

// ============================================================================
// BYTES & DIGEST
// ============================================================================

func TestBytesRoundTrip(t *testing.T) {
	buf := packed(t, nil)
	b := AppendBytes(nil, buf)
	assert.Len(t, b, 8*len(buf))

	back, err := DecodeBytes(nil, b)
	require.NoError(t, err)
	assert.Equal(t, buf, back)

	_, err = DecodeBytes(nil, b[:len(b)-1])
	assert.ErrorIs(t, err, ErrOddBytes)
}

func TestDigest(t *testing.T) {
	a := packed(t, nil)
	b := packed(t, nil)
	assert.Equal(t, Digest(a), Digest(b))

	b[constants.WireHeaderLen] = math.Nextafter(b[constants.WireHeaderLen], 10)
	assert.NotEqual(t, Digest(a), Digest(b))
	assert.NotEqual(t, Digest(nil), Digest([]float64{0}))
}

// ============================================================================
// BENCHMARKS
// ============================================================================

func BenchmarkPack(b *testing.B) {
	r := fullRay()
	buf := make([]float64, 0, PackableSize(r))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, _ = Pack(buf[:0], r)
	}
}

func BenchmarkUnpack(b *testing.B) {
	buf, _ := Pack(nil, fullRay())
	dec := NewDecoder(owned, AnySchema)
	dst := fullRay()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = dec.Unpack(buf, dst)
	}
}

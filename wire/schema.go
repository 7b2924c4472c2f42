// ════════════════════════════════════════════════════════════════════════════════════════════════
// Packed Ray Field Table
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: Wire Format Definition
//
// Description:
//   The wire format of an in-flight ray is a flat sequence of float64 scalars: a fixed header of
//   22 scalars followed by the payload, the polar sins and the polar weights. The header order is
//   defined once, by the header table below; Pack walks it to encode and Unpack walks it to
//   decode, so the two directions cannot drift apart.
//
// Encoding rules:
//   - Counts, ids, element ids, sides and integral counters travel as exact integers (< 2^53)
//   - Flags travel as 1.0 / 0.0 and nothing else is accepted back
//   - The incoming-side sentinel travels as 4294967295
//   - The azimuthal angle never travels
//
// ⚠️ Reordering, adding or removing an entry changes the wire format
// ════════════════════════════════════════════════════════════════════════════════════════════════

package wire

import (
	"math"

	"raytrace/constants"
	"raytrace/ray"
)

// frame stages decoded header values before they are applied to a Ray.
type frame struct {
	lens           [3]int
	start, end     ray.Point
	elem           ray.ElemID
	endsWithinMesh bool
	side           uint32
	counters       ray.Counters
	azSpacing      float64
	azWeight       float64
	polarSpacing   float64
	id             uint64
	isReverse      bool
	shouldContinue bool
}

// field is one header scalar: how to read it off a ray and how to store it
// into a frame.
type field struct {
	name string
	enc  func(r *ray.Ray) (float64, error)
	dec  func(f *frame, v float64) error
}

// array is one variable-length tail section. Its length travels in the
// header entry of the same index.
type array struct {
	name string
	get  func(r *ray.Ray) []float64
}

// tail lists the variable-length sections in wire order.
var tail = [3]array{
	{"data", (*ray.Ray).Data},
	{"polar_sins", (*ray.Ray).PolarSins},
	{"polar_weights", (*ray.Ray).PolarWeights},
}

// header lists the fixed scalars in wire order.
var header = [constants.WireHeaderLen]field{
	length(0),
	length(1),
	length(2),
	scalar("start.x", func(r *ray.Ray) float64 { return r.Start().X }, func(f *frame, v float64) { f.start.X = v }),
	scalar("start.y", func(r *ray.Ray) float64 { return r.Start().Y }, func(f *frame, v float64) { f.start.Y = v }),
	scalar("start.z", func(r *ray.Ray) float64 { return r.Start().Z }, func(f *frame, v float64) { f.start.Z = v }),
	scalar("end.x", func(r *ray.Ray) float64 { return r.End().X }, func(f *frame, v float64) { f.end.X = v }),
	scalar("end.y", func(r *ray.Ray) float64 { return r.End().Y }, func(f *frame, v float64) { f.end.Y = v }),
	scalar("end.z", func(r *ray.Ray) float64 { return r.End().Z }, func(f *frame, v float64) { f.end.Z = v }),
	integer("starting_elem", constants.MaxExactInteger,
		func(r *ray.Ray) uint64 { return uint64(r.StartingElem().ID()) },
		func(f *frame, v uint64) { f.elem = ray.ElemID(v) }),
	flag("ends_within_mesh", (*ray.Ray).EndsWithinMesh, func(f *frame, v bool) { f.endsWithinMesh = v }),
	integer("incoming_side", math.MaxUint32,
		func(r *ray.Ray) uint64 { return uint64(r.IncomingSide()) },
		func(f *frame, v uint64) { f.side = uint32(v) }),
	integer("processor_crossings", constants.MaxExactInteger,
		(*ray.Ray).ProcessorCrossings,
		func(f *frame, v uint64) { f.counters.ProcessorCrossings = v }),
	integer("intersections", constants.MaxExactInteger,
		(*ray.Ray).Intersections,
		func(f *frame, v uint64) { f.counters.Intersections = v }),
	scalar("distance", (*ray.Ray).Distance, func(f *frame, v float64) { f.counters.Distance = v }),
	scalar("integrated_distance", (*ray.Ray).IntegratedDistance, func(f *frame, v float64) { f.counters.IntegratedDistance = v }),
	scalar("azimuthal_spacing", (*ray.Ray).AzimuthalSpacing, func(f *frame, v float64) { f.azSpacing = v }),
	scalar("azimuthal_weight", (*ray.Ray).AzimuthalWeight, func(f *frame, v float64) { f.azWeight = v }),
	scalar("polar_spacing", (*ray.Ray).PolarSpacing, func(f *frame, v float64) { f.polarSpacing = v }),
	integer("id", constants.MaxExactInteger, (*ray.Ray).ID, func(f *frame, v uint64) { f.id = v }),
	flag("is_reverse", (*ray.Ray).IsReverse, func(f *frame, v bool) { f.isReverse = v }),
	flag("should_continue", (*ray.Ray).ShouldContinue, func(f *frame, v bool) { f.shouldContinue = v }),
}

// idSlot is the header position of the ray id, used to label errors.
const idSlot = 19

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// FIELD CONSTRUCTORS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func length(i int) field {
	return integer(tail[i].name+"_len", constants.MaxExactInteger,
		func(r *ray.Ray) uint64 { return uint64(len(tail[i].get(r))) },
		func(f *frame, v uint64) { f.lens[i] = int(v) })
}

func scalar(name string, get func(*ray.Ray) float64, set func(*frame, float64)) field {
	return field{
		name: name,
		enc:  func(r *ray.Ray) (float64, error) { return get(r), nil },
		dec:  func(f *frame, v float64) error { set(f, v); return nil },
	}
}

func integer(name string, max uint64, get func(*ray.Ray) uint64, set func(*frame, uint64)) field {
	return field{
		name: name,
		enc: func(r *ray.Ray) (float64, error) {
			v := get(r)
			if v > max {
				return 0, ErrUnrepresentable
			}
			return float64(v), nil
		},
		dec: func(f *frame, v float64) error {
			u, ok := exactUint(v, max)
			if !ok {
				return ErrMalformed
			}
			set(f, u)
			return nil
		},
	}
}

func flag(name string, get func(*ray.Ray) bool, set func(*frame, bool)) field {
	return field{
		name: name,
		enc: func(r *ray.Ray) (float64, error) {
			if get(r) {
				return 1, nil
			}
			return 0, nil
		},
		dec: func(f *frame, v float64) error {
			switch v {
			case 0:
				set(f, false)
			case 1:
				set(f, true)
			default:
				return ErrMalformed
			}
			return nil
		},
	}
}

// exactUint converts v when it is a non-negative integer no larger than max.
func exactUint(v float64, max uint64) (uint64, bool) {
	if !(v >= 0) || v > float64(max) || v != math.Trunc(v) {
		return 0, false
	}
	return uint64(v), true
}

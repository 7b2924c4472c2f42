// ════════════════════════════════════════════════════════════════════════════════════════════════
// Ray Entity
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: Mutable Traversal State & Payload
//
// Description:
//   A Ray is a directed segment traced through a partitioned mesh. It carries a caller-sized
//   payload of scalars, four monotone traversal counters, continuation flags and per-direction
//   angular quadrature metadata. It knows nothing about the mesh or the transport; the mesh
//   element it resumes in is held through the narrow Elem interface.
//
// Ownership:
//   - Exactly one worker owns a Ray while it is in flight
//   - Pooled rays are reused: Reset must run before every reuse
//   - Resetting a Ray while it is being packed or unpacked is undefined behaviour
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package ray

import (
	"errors"
	"math"
	"slices"

	"raytrace/constants"
)

// ElemID is the stable, process-independent identifier of a mesh element.
type ElemID uint64

// Elem is the local handle of a mesh element. Only its stable id crosses
// process boundaries.
type Elem interface {
	ID() ElemID
}

// NoID marks a ray whose id has not been assigned yet.
const NoID = ^uint64(0)

// ErrPolarLength reports polar sins and polar weights of different lengths.
var ErrPolarLength = errors.New("ray: polar sins and polar weights differ in length")

// Counters is a snapshot of the four traversal counters.
type Counters struct {
	ProcessorCrossings uint64
	Intersections      uint64
	Distance           float64
	IntegratedDistance float64
}

// Ray is the unit of work. The zero value is not ready for use; obtain rays
// through New, NewWithData or a Reset on a pooled instance.
type Ray struct {
	// Traversal state, touched every step
	start        Point
	end          Point
	elem         Elem
	incomingSide uint32
	counters     Counters

	shouldContinue bool
	endsWithinMesh bool
	isReverse      bool

	id   uint64
	data []float64

	// Angular metadata, fixed per direction
	azimuthalAngle   float64
	azimuthalSpacing float64
	azimuthalWeight  float64
	polarSpacing     float64
	polarSins        []float64
	polarWeights     []float64
}

// New creates a ray with a zero-filled payload of the given size.
func New(start, end Point, size int, elem Elem, incomingSide uint32) *Ray {
	r := &Ray{}
	r.Reset(start, end, size, 0, elem, incomingSide)
	return r
}

// NewWithData creates a ray whose payload is a copy of data.
func NewWithData(start, end Point, data []float64, elem Elem, incomingSide uint32) *Ray {
	r := &Ray{}
	r.ResetWithData(start, end, data, elem, incomingSide)
	return r
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// RESET
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Reset reinitialises every field for reuse: geometry, a payload of size
// values all equal to fill, zeroed counters, continue=true, reverse=false,
// ends-within-mesh=false, default angular metadata and no id.
// Payload capacity from a previous use is kept.
func (r *Ray) Reset(start, end Point, size int, fill float64, elem Elem, incomingSide uint32) {
	if size < 0 {
		panic("ray: negative payload size")
	}
	r.reinit(start, end, elem, incomingSide)
	r.data = slices.Grow(r.data[:0], size)[:size]
	for i := range r.data {
		r.data[i] = fill
	}
}

// ResetWithData is Reset with the payload copied from data.
func (r *Ray) ResetWithData(start, end Point, data []float64, elem Elem, incomingSide uint32) {
	r.reinit(start, end, elem, incomingSide)
	r.data = append(r.data[:0], data...)
}

func (r *Ray) reinit(start, end Point, elem Elem, incomingSide uint32) {
	r.start = start
	r.end = end
	r.elem = elem
	r.incomingSide = incomingSide
	r.ResetCounters()

	r.shouldContinue = true
	r.endsWithinMesh = false
	r.isReverse = false
	r.id = NoID

	r.azimuthalAngle = 0
	r.azimuthalSpacing = constants.DefaultAzimuthalSpacing
	r.azimuthalWeight = constants.DefaultAzimuthalWeight
	r.polarSpacing = constants.DefaultPolarSpacing
	r.polarSins = r.polarSins[:0]
	r.polarWeights = r.polarWeights[:0]
}

// ResetCounters zeroes the four traversal counters.
func (r *Ray) ResetCounters() {
	r.counters = Counters{}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// IDENTITY & GEOMETRY
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (r *Ray) ID() uint64      { return r.id }
func (r *Ray) SetID(id uint64) { r.id = id }

// HasID reports whether an id has been assigned since the last reset.
func (r *Ray) HasID() bool { return r.id != NoID }

func (r *Ray) Start() Point         { return r.start }
func (r *Ray) SetStart(start Point) { r.start = start }
func (r *Ray) End() Point           { return r.end }
func (r *Ray) SetEnd(end Point)     { r.end = end }

// StartingElem is the element the ray resumes in; nil when unbound.
func (r *Ray) StartingElem() Elem          { return r.elem }
func (r *Ray) SetStartingElem(elem Elem)   { r.elem = elem }
func (r *Ray) IncomingSide() uint32        { return r.incomingSide }
func (r *Ray) SetIncomingSide(side uint32) { r.incomingSide = side }

// StartsInside reports whether the ray begins inside its element rather
// than entering it through a side.
func (r *Ray) StartsInside() bool { return r.incomingSide == constants.InvalidSide }

// Data returns the payload. Values may be mutated in place; the length is
// fixed until the next reset.
func (r *Ray) Data() []float64 { return r.data }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// FLAGS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (r *Ray) ShouldContinue() bool     { return r.shouldContinue }
func (r *Ray) SetShouldContinue(v bool) { r.shouldContinue = v }
func (r *Ray) EndsWithinMesh() bool     { return r.endsWithinMesh }
func (r *Ray) SetEndsWithinMesh(v bool) { r.endsWithinMesh = v }
func (r *Ray) IsReverse() bool          { return r.isReverse }
func (r *Ray) SetIsReverse(v bool)      { r.isReverse = v }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// COUNTERS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (r *Ray) ProcessorCrossings() uint64  { return r.counters.ProcessorCrossings }
func (r *Ray) Intersections() uint64       { return r.counters.Intersections }
func (r *Ray) Distance() float64           { return r.counters.Distance }
func (r *Ray) IntegratedDistance() float64 { return r.counters.IntegratedDistance }
func (r *Ray) Counters() Counters          { return r.counters }

// SetCounters restores a full snapshot. Decoders use it to rebuild a ray
// received from a peer; tracing code advances counters through the Add
// methods only.
func (r *Ray) SetCounters(c Counters) { r.counters = c }

// AddProcessorCrossing records one hand-off to another process.
func (r *Ray) AddProcessorCrossing() { r.counters.ProcessorCrossings++ }

// AddIntersections records n element-side intersections.
func (r *Ray) AddIntersections(n uint64) { r.counters.Intersections += n }

// AddDistance advances the travelled distance. Negative or NaN increments
// would break counter monotonicity and panic.
func (r *Ray) AddDistance(d float64) {
	mustIncrement(d)
	r.counters.Distance += d
}

// AddIntegratedDistance advances the integrated distance; same rules as
// AddDistance.
func (r *Ray) AddIntegratedDistance(d float64) {
	mustIncrement(d)
	r.counters.IntegratedDistance += d
}

func mustIncrement(d float64) {
	if !(d >= 0) || math.IsInf(d, 1) {
		panic("ray: counter increment must be finite and non-negative")
	}
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ANGULAR METADATA
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// AzimuthalAngle is only meaningful during ray generation and never travels
// between processes.
func (r *Ray) AzimuthalAngle() float64       { return r.azimuthalAngle }
func (r *Ray) SetAzimuthalAngle(v float64)   { r.azimuthalAngle = v }
func (r *Ray) AzimuthalSpacing() float64     { return r.azimuthalSpacing }
func (r *Ray) SetAzimuthalSpacing(v float64) { r.azimuthalSpacing = v }
func (r *Ray) AzimuthalWeight() float64      { return r.azimuthalWeight }
func (r *Ray) SetAzimuthalWeight(v float64)  { r.azimuthalWeight = v }
func (r *Ray) PolarSpacing() float64         { return r.polarSpacing }
func (r *Ray) SetPolarSpacing(v float64)     { r.polarSpacing = v }
func (r *Ray) PolarSins() []float64          { return r.polarSins }
func (r *Ray) PolarWeights() []float64       { return r.polarWeights }

// SetPolar copies index-paired polar sins and weights into the ray.
func (r *Ray) SetPolar(sins, weights []float64) error {
	if len(sins) != len(weights) {
		return ErrPolarLength
	}
	r.polarSins = append(r.polarSins[:0], sins...)
	r.polarWeights = append(r.polarWeights[:0], weights...)
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// REVERSAL
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Reverse returns a new ray running end→start. See ReverseInto.
func (r *Ray) Reverse() *Ray {
	rev := &Ray{}
	r.ReverseInto(rev)
	return rev
}

// ReverseInto resets dst to the reverse of r: swapped geometry, a zeroed
// payload of the same length, is-reverse set and the angular metadata
// copied. Counters start from zero and no element or id is bound; the
// orchestrator assigns both.
func (r *Ray) ReverseInto(dst *Ray) {
	if dst == r {
		panic("ray: cannot reverse a ray into itself")
	}
	dst.Reset(r.end, r.start, len(r.data), 0, nil, constants.InvalidSide)
	dst.isReverse = true
	dst.azimuthalAngle = r.azimuthalAngle
	dst.azimuthalSpacing = r.azimuthalSpacing
	dst.azimuthalWeight = r.azimuthalWeight
	dst.polarSpacing = r.polarSpacing
	dst.polarSins = append(dst.polarSins[:0], r.polarSins...)
	dst.polarWeights = append(dst.polarWeights[:0], r.polarWeights...)
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// EQUALITY
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Equal reports whether every field that survives a pack/unpack round trip
// matches: id, geometry, element id, incoming side, payload, counters, flags,
// spacings, weights and polar arrays. The azimuthal angle is excluded.
// Intended for tests and debugging, not identity.
func (r *Ray) Equal(o *Ray) bool {
	if r == o {
		return true
	}
	if r == nil || o == nil {
		return false
	}
	return r.id == o.id &&
		r.start.Equal(o.start) &&
		r.end.Equal(o.end) &&
		sameElem(r.elem, o.elem) &&
		r.incomingSide == o.incomingSide &&
		r.counters.ProcessorCrossings == o.counters.ProcessorCrossings &&
		r.counters.Intersections == o.counters.Intersections &&
		sameFloat(r.counters.Distance, o.counters.Distance) &&
		sameFloat(r.counters.IntegratedDistance, o.counters.IntegratedDistance) &&
		r.shouldContinue == o.shouldContinue &&
		r.endsWithinMesh == o.endsWithinMesh &&
		r.isReverse == o.isReverse &&
		sameFloat(r.azimuthalSpacing, o.azimuthalSpacing) &&
		sameFloat(r.azimuthalWeight, o.azimuthalWeight) &&
		sameFloat(r.polarSpacing, o.polarSpacing) &&
		sameFloats(r.data, o.data) &&
		sameFloats(r.polarSins, o.polarSins) &&
		sameFloats(r.polarWeights, o.polarWeights)
}

func sameElem(a, b Elem) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID() == b.ID()
}

func sameFloats(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameFloat(a[i], b[i]) {
			return false
		}
	}
	return true
}

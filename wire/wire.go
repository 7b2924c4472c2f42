// ════════════════════════════════════════════════════════════════════════════════════════════════
// Ray Packing Protocol
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: Encode / Decode Of In-Flight Rays
//
// Description:
//   Pack appends a ray's full state to a scalar buffer; Decoder.Unpack rebuilds an equivalent
//   ray on the receiving process, resolving the starting element through an injected Resolver.
//   Several rays may be packed back to back into one buffer; Split walks such a buffer record
//   by record using only the header counts.
//
// Guarantees:
//   - PackableSize is exact, so send buffers can be sized before packing
//   - Declared lengths are checked against the receiver schema before the tail is touched
//   - Packing never mutates the source ray
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package wire

import (
	"slices"

	"raytrace/constants"
	"raytrace/ray"
)

// Resolver maps a stable element id to the receiving process's element.
// It must fail for ids the process does not own.
type Resolver interface {
	Resolve(id ray.ElemID) (ray.Elem, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(id ray.ElemID) (ray.Elem, error)

func (f ResolverFunc) Resolve(id ray.ElemID) (ray.Elem, error) { return f(id) }

// Any disables a Schema length check.
const Any = -1

// Schema is the payload and polar length the receiver expects.
type Schema struct {
	DataLen  int
	PolarLen int
}

// AnySchema accepts every length.
var AnySchema = Schema{DataLen: Any, PolarLen: Any}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// SIZES
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// PackableSize is the exact number of scalars Pack will append for r.
func PackableSize(r *ray.Ray) int {
	n := constants.WireHeaderLen
	for i := range tail {
		n += len(tail[i].get(r))
	}
	return n
}

// PackedSize reads the record size announced by the header at the front of
// buf, without decoding anything else.
func PackedSize(buf []float64) (int, error) {
	if len(buf) < constants.WireHeaderLen {
		return 0, &DecodeError{Field: "header", Err: ErrTruncated}
	}
	var f frame
	n := constants.WireHeaderLen
	for i := range tail {
		if err := header[i].dec(&f, buf[i]); err != nil {
			return 0, decodeErr(buf, header[i].name, err)
		}
		n += f.lens[i]
	}
	return n, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ENCODE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Pack appends the wire form of r to dst. On error dst is returned
// unchanged. The ray must have a starting element and an id.
func Pack(dst []float64, r *ray.Ray) ([]float64, error) {
	if r.StartingElem() == nil {
		return dst, &EncodeError{Field: "starting_elem", RayID: r.ID(), Err: ErrNoElem}
	}
	if len(r.PolarSins()) != len(r.PolarWeights()) {
		return dst, &EncodeError{Field: "polar_weights_len", RayID: r.ID(), Err: ErrPolarLength}
	}

	mark := len(dst)
	dst = slices.Grow(dst, PackableSize(r))
	for i := range header {
		v, err := header[i].enc(r)
		if err != nil {
			return dst[:mark], &EncodeError{Field: header[i].name, RayID: r.ID(), Err: err}
		}
		dst = append(dst, v)
	}
	for i := range tail {
		dst = append(dst, tail[i].get(r)...)
	}
	return dst, nil
}

// PackBatch packs rays back to back.
func PackBatch(dst []float64, rays ...*ray.Ray) ([]float64, error) {
	mark := len(dst)
	var err error
	for _, r := range rays {
		if dst, err = Pack(dst, r); err != nil {
			return dst[:mark], err
		}
	}
	return dst, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// DECODE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Decoder rebuilds rays for one receiving process.
type Decoder struct {
	Resolver Resolver
	Schema   Schema
}

// NewDecoder creates a Decoder.
func NewDecoder(res Resolver, schema Schema) *Decoder {
	return &Decoder{Resolver: res, Schema: schema}
}

// Unpack decodes the record at the front of buf into dst and returns the
// number of scalars consumed. dst is fully reinitialised; every wire field
// is overwritten and the azimuthal angle is left at its reset value.
// On error dst holds unspecified state and must be reset before reuse.
func (d *Decoder) Unpack(buf []float64, dst *ray.Ray) (int, error) {
	if len(buf) < constants.WireHeaderLen {
		return 0, decodeErr(buf, "header", ErrTruncated)
	}

	var f frame
	for i := range header {
		if err := header[i].dec(&f, buf[i]); err != nil {
			return 0, decodeErr(buf, header[i].name, err)
		}
	}

	if err := d.checkLengths(&f); err != nil {
		return 0, err
	}

	n := constants.WireHeaderLen + f.lens[0] + f.lens[1] + f.lens[2]
	if len(buf) < n {
		return 0, f.err("tail", ErrTruncated)
	}

	elem, err := d.Resolver.Resolve(f.elem)
	if err != nil {
		return 0, f.err("starting_elem", joinUnknown(err))
	}

	off := constants.WireHeaderLen
	data := buf[off : off+f.lens[0]]
	off += f.lens[0]
	sins := buf[off : off+f.lens[1]]
	off += f.lens[1]
	weights := buf[off : off+f.lens[2]]

	dst.ResetWithData(f.start, f.end, data, elem, f.side)
	dst.SetID(f.id)
	dst.SetEndsWithinMesh(f.endsWithinMesh)
	dst.SetCounters(f.counters)
	dst.SetAzimuthalSpacing(f.azSpacing)
	dst.SetAzimuthalWeight(f.azWeight)
	dst.SetPolarSpacing(f.polarSpacing)
	dst.SetIsReverse(f.isReverse)
	dst.SetShouldContinue(f.shouldContinue)
	if err := dst.SetPolar(sins, weights); err != nil {
		return 0, f.err("polar_weights", err)
	}
	return n, nil
}

// checkLengths validates the three declared counts before any tail read.
func (d *Decoder) checkLengths(f *frame) error {
	if f.lens[1] != f.lens[2] {
		return f.err("polar_weights_len", ErrPolarLength)
	}
	if d.Schema.DataLen != Any && f.lens[0] != d.Schema.DataLen {
		return f.err("data_len", ErrLengthMismatch)
	}
	if d.Schema.PolarLen != Any && f.lens[1] != d.Schema.PolarLen {
		return f.err("polar_sins_len", ErrLengthMismatch)
	}
	return nil
}

// Split calls fn with each back-to-back record in buf. It stops at the
// first error.
func Split(buf []float64, fn func(record []float64) error) error {
	for len(buf) > 0 {
		n, err := PackedSize(buf)
		if err != nil {
			return err
		}
		if len(buf) < n {
			return decodeErr(buf, "tail", ErrTruncated)
		}
		if err := fn(buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// UnpackBatch decodes every back-to-back record in buf. next supplies the
// destination ray for each record; it is typically a pool acquire. The
// number of rays decoded is returned alongside the first error.
func (d *Decoder) UnpackBatch(buf []float64, next func() (*ray.Ray, error)) (int, error) {
	count := 0
	for len(buf) > 0 {
		dst, err := next()
		if err != nil {
			return count, err
		}
		n, err := d.Unpack(buf, dst)
		if err != nil {
			return count, err
		}
		count++
		buf = buf[n:]
	}
	return count, nil
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ERROR HELPERS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (f *frame) err(name string, err error) error {
	return &DecodeError{Field: name, RayID: f.id, HasID: true, Err: err}
}

// decodeErr labels err with the ray id when the id slot is readable.
func decodeErr(buf []float64, name string, err error) error {
	e := &DecodeError{Field: name, Err: err}
	if len(buf) > idSlot {
		if id, ok := exactUint(buf[idSlot], constants.MaxExactInteger); ok {
			e.RayID, e.HasID = id, true
		}
	}
	return e
}

// unknownElemError keeps the resolver's message while matching
// ErrUnknownElem.
type unknownElemError struct{ err error }

func (e unknownElemError) Error() string   { return ErrUnknownElem.Error() + ": " + e.err.Error() }
func (e unknownElemError) Unwrap() []error { return []error{ErrUnknownElem, e.err} }

func joinUnknown(err error) error {
	return unknownElemError{err: err}
}

package wire

import (
	"errors"
	"fmt"

	"raytrace/ray"
)

var (
	// ErrTruncated reports a buffer shorter than its own header announces.
	ErrTruncated = errors.New("wire: truncated buffer")
	// ErrMalformed reports a scalar that cannot encode its field: a
	// non-integral count, a flag other than 0 or 1, an out-of-range side.
	ErrMalformed = errors.New("wire: malformed scalar")
	// ErrLengthMismatch reports declared lengths that disagree with the
	// receiver's schema.
	ErrLengthMismatch = errors.New("wire: length mismatch")
	// ErrPolarLength is ray.ErrPolarLength so callers can match either.
	ErrPolarLength = ray.ErrPolarLength
	// ErrUnknownElem reports an element id the receiving process cannot
	// resolve. It points at a partition ownership bug upstream.
	ErrUnknownElem = errors.New("wire: unknown element")
	// ErrNoElem reports a ray packed without a starting element.
	ErrNoElem = errors.New("wire: ray has no starting element")
	// ErrUnrepresentable reports an integer too large to travel as a scalar.
	ErrUnrepresentable = errors.New("wire: integer exceeds 2^53")
)

// DecodeError locates a decode failure. RayID is filled whenever the id
// slot of the header holds a valid integer, even if another field broke.
type DecodeError struct {
	Field string
	RayID uint64
	HasID bool
	Err   error
}

func (e *DecodeError) Error() string {
	if e.HasID {
		return fmt.Sprintf("wire: unpack ray %d, field %s: %v", e.RayID, e.Field, e.Err)
	}
	return fmt.Sprintf("wire: unpack field %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError locates a pack failure.
type EncodeError struct {
	Field string
	RayID uint64
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("wire: pack ray %d, field %s: %v", e.RayID, e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

package wire

import (
	"encoding/binary"
	"errors"
	"math"

	"golang.org/x/crypto/sha3"
)

// ErrOddBytes reports a byte frame whose length is not a multiple of eight.
var ErrOddBytes = errors.New("wire: byte frame length not a multiple of 8")

// AppendBytes appends buf to dst as little-endian IEEE-754 words.
func AppendBytes(dst []byte, buf []float64) []byte {
	for _, v := range buf {
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(v))
	}
	return dst
}

// DecodeBytes appends the scalars framed in b to dst.
func DecodeBytes(dst []float64, b []byte) ([]float64, error) {
	if len(b)&7 != 0 {
		return dst, ErrOddBytes
	}
	for i := 0; i < len(b); i += 8 {
		dst = append(dst, math.Float64frombits(binary.LittleEndian.Uint64(b[i:])))
	}
	return dst, nil
}

// Digest fingerprints a scalar buffer with SHA3-256 over its byte frame.
// Equal buffers, bit for bit, give equal digests.
func Digest(buf []float64) [32]byte {
	h := sha3.New256()
	var word [8]byte
	for _, v := range buf {
		binary.LittleEndian.PutUint64(word[:], math.Float64bits(v))
		h.Write(word[:])
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

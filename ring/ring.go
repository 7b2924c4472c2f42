// ring.go
//
// Bounded lock-free multi-producer/multi-consumer ring. Every slot carries a
// sequence stamp: a producer may fill slot i only when its stamp equals the
// claimed tail, and a consumer may drain it only when the stamp equals
// head+1. Head and tail live on separate cache lines so senders on one rank
// never false-share with the workers draining it.
//
// Values are copied in and out; the slot is zeroed on Pop so the ring never
// pins a payload the consumer already owns.

package ring

import (
	"runtime"
	"sync/atomic"

	"raytrace/constants"
)

type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a fixed-capacity FIFO safe for any number of producers and
// consumers.
type Ring[T any] struct {
	_    [constants.CacheLineSize]byte
	head atomic.Uint64
	_    [constants.CacheLineSize - 8]byte
	tail atomic.Uint64
	_    [constants.CacheLineSize - 8]byte
	mask uint64
	buf  []slot[T]
}

// New allocates a ring whose size must be a power of two; otherwise it
// panics so that the bit-masking arithmetic stays valid.
func New[T any](size int) *Ring[T] {
	if size <= 0 || size&(size-1) != 0 {
		panic("ring: size must be >0 and a power of two")
	}
	r := &Ring[T]{
		mask: uint64(size - 1),
		buf:  make([]slot[T], size),
	}
	for i := range r.buf {
		r.buf[i].seq.Store(uint64(i))
	}
	return r
}

// Cap is the number of slots.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len is a racy estimate of the queued items.
func (r *Ring[T]) Len() int {
	n := int64(r.tail.Load()) - int64(r.head.Load())
	if n < 0 {
		return 0
	}
	return int(n)
}

// Push enqueues v, returning false if the ring is full.
func (r *Ring[T]) Push(v T) bool {
	for {
		t := r.tail.Load()
		s := &r.buf[t&r.mask]
		switch d := int64(s.seq.Load()) - int64(t); {
		case d == 0:
			if r.tail.CompareAndSwap(t, t+1) {
				s.val = v
				s.seq.Store(t + 1)
				return true
			}
		case d < 0:
			return false // consumer has not yet reclaimed the slot
		default:
			runtime.Gosched() // another producer moved tail
		}
	}
}

// Pop dequeues one value, reporting false if the ring is empty.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	for {
		h := r.head.Load()
		s := &r.buf[h&r.mask]
		switch d := int64(s.seq.Load()) - int64(h+1); {
		case d == 0:
			if r.head.CompareAndSwap(h, h+1) {
				v := s.val
				s.val = zero
				s.seq.Store(h + uint64(len(r.buf)))
				return v, true
			}
		case d < 0:
			return zero, false // producer has not yet published to the slot
		default:
			runtime.Gosched()
		}
	}
}

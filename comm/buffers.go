package comm

import (
	"math/bits"
	"sync"
)

const (
	minClassShift = 5  // 32 scalars
	maxClassShift = 16 // 64Ki scalars
)

// Buffers is a size-classed pool of scalar buffers. Classes are powers of
// two; oversized requests bypass the pool.
type Buffers struct {
	classes [maxClassShift - minClassShift + 1]sync.Pool
}

// NewBuffers creates an empty pool.
func NewBuffers() *Buffers {
	b := &Buffers{}
	for i := range b.classes {
		size := 1 << (minClassShift + i)
		b.classes[i].New = func() any {
			s := make([]float64, 0, size)
			return &s
		}
	}
	return b
}

// Get returns an empty buffer with capacity for at least n scalars.
func (b *Buffers) Get(n int) *[]float64 {
	c := classFor(n)
	if c >= len(b.classes) {
		s := make([]float64, 0, n)
		return &s
	}
	p := b.classes[c].Get().(*[]float64)
	*p = (*p)[:0]
	return p
}

// Put returns a buffer obtained from Get.
func (b *Buffers) Put(p *[]float64) {
	if p == nil {
		return
	}
	c := cap(*p)
	if c < 1<<minClassShift || c > 1<<maxClassShift || c&(c-1) != 0 {
		return
	}
	b.classes[bits.Len(uint(c))-1-minClassShift].Put(p)
}

// classFor is the index of the smallest class holding n scalars.
func classFor(n int) int {
	if n <= 1<<minClassShift {
		return 0
	}
	return bits.Len(uint(n-1)) - minClassShift
}

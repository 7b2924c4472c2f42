// ════════════════════════════════════════════════════════════════════════════════════════════════
// Ray Pool
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: Bounded Arena With Free List
//
// Description:
//   Fixed-capacity reservoir of Ray objects shared by every tracing worker of one process.
//   Rays live inside padded slots on fixed-size pages that are allocated on first use, so a
//   slot's address never moves once handed out. Released slots are threaded onto an intrusive
//   free list and reused before fresh slots are touched.
//
// Features:
//   - Index handles stamped with a generation: a stale or double release is detected
//   - Configurable exhaustion policy: block the caller or fail with a capacity error
//   - Release never resets contents; the next Acquire-then-Reset pays that cost
//   - Each slot occupies its own cache lines to avoid false sharing between workers
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"raytrace/constants"
	"raytrace/ray"
)

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// POLICY & ERRORS
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Policy selects what Acquire does when every slot is live.
type Policy uint8

const (
	// Block waits until another worker releases a slot.
	Block Policy = iota
	// Fail returns a *CapacityError immediately.
	Fail
)

func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy maps "block" or "fail" (any case) to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block", "":
		return Block, nil
	case "fail":
		return Fail, nil
	default:
		return Block, fmt.Errorf("pool: unknown exhaustion policy %q", s)
	}
}

var (
	// ErrExhausted is wrapped by every *CapacityError.
	ErrExhausted = errors.New("pool: capacity exhausted")
	// ErrStaleHandle reports a release of a handle that is not live.
	ErrStaleHandle = errors.New("pool: stale or unknown handle")
)

// CapacityError is returned by Acquire under the Fail policy.
type CapacityError struct {
	Capacity int
	Live     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("pool: all %d rays live (%d held); raise the pool capacity or use the block policy",
		e.Capacity, e.Live)
}

func (e *CapacityError) Unwrap() error { return ErrExhausted }

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// STORAGE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// nilIdx terminates the free list.
const nilIdx = ^uint32(0)

// Handle names one live acquisition. The zero Handle is never valid.
type Handle struct {
	idx uint32
	gen uint32
}

// Index is the slot position, stable for the pool's lifetime.
func (h Handle) Index() int { return int(h.idx) }

// slot wraps one pooled Ray.
//
// Field Layout:
//   - ray: the pooled object itself
//   - gen: bumped on every acquisition, matched on release
//   - next: free-list link while the slot is idle
//   - trailing pad keeps neighbouring rays off each other's lines
type slot struct {
	ray  ray.Ray
	gen  uint32
	next uint32
	live bool
	_    [constants.CacheLineSize]byte
}

// Stats is a point-in-time view of pool usage.
type Stats struct {
	Capacity    int
	Allocated   int // slots ever touched
	Live        int // slots currently handed out
	Acquires    uint64
	Releases    uint64
	Exhaustions uint64 // Fail-policy refusals
	Waits       uint64 // Block-policy waits
}

// Pool is a bounded Ray reservoir safe for concurrent use.
type Pool struct {
	mu sync.Mutex

	pages     [][]slot
	allocated uint32
	free      uint32
	live      int
	waiting   int
	wake      chan struct{}

	capacity int
	policy   Policy

	acquires    uint64
	releases    uint64
	exhaustions uint64
	waits       uint64
}

// New creates a pool holding at most capacity live rays. Storage is
// allocated page by page as demand grows. New panics if capacity is not
// positive or does not fit a 32-bit index.
func New(capacity int, policy Policy) *Pool {
	if capacity <= 0 || uint64(capacity) >= uint64(nilIdx) {
		panic("pool: capacity must be > 0 and fit in 32 bits")
	}
	pageCount := (capacity + constants.PoolPageSize - 1) >> constants.PoolPageShift
	return &Pool{
		pages:    make([][]slot, pageCount),
		free:     nilIdx,
		wake:     make(chan struct{}),
		capacity: capacity,
		policy:   policy,
	}
}

// slotAt resolves an index into its slot.
func (p *Pool) slotAt(idx uint32) *slot {
	return &p.pages[idx>>constants.PoolPageShift][idx&constants.PoolPageMask]
}

// take pops the free list or touches a fresh slot. Caller holds mu.
func (p *Pool) take() (uint32, bool) {
	if p.free != nilIdx {
		idx := p.free
		p.free = p.slotAt(idx).next
		return idx, true
	}
	if int(p.allocated) >= p.capacity {
		return 0, false
	}
	idx := p.allocated
	page := idx >> constants.PoolPageShift
	if p.pages[page] == nil {
		size := min(constants.PoolPageSize, p.capacity-int(page)<<constants.PoolPageShift)
		p.pages[page] = make([]slot, size)
	}
	p.allocated++
	return idx, true
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// ACQUIRE / RELEASE
// ═══════════════════════════════════════════════════════════════════════════════════════════════

// Acquire hands out exclusive access to one Ray. The ray still holds
// whatever its previous user left; call Reset before tracing it.
// Under the Block policy Acquire waits for a release or for ctx to end.
func (p *Pool) Acquire(ctx context.Context) (Handle, *ray.Ray, error) {
	for {
		p.mu.Lock()
		if idx, ok := p.take(); ok {
			s := p.slotAt(idx)
			s.gen++
			if s.gen == 0 {
				s.gen = 1
			}
			s.live = true
			s.next = nilIdx
			p.live++
			p.acquires++
			p.mu.Unlock()
			return Handle{idx: idx, gen: s.gen}, &s.ray, nil
		}

		if p.policy == Fail {
			p.exhaustions++
			err := &CapacityError{Capacity: p.capacity, Live: p.live}
			p.mu.Unlock()
			return Handle{}, nil, err
		}

		p.waits++
		p.waiting++
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return Handle{}, nil, ctx.Err()
		case <-wake:
		}
	}
}

// Release returns the slot behind h. Contents are left as they are.
// The caller must not touch the ray afterwards.
func (p *Pool) Release(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.gen == 0 || h.idx >= p.allocated {
		return ErrStaleHandle
	}
	s := p.slotAt(h.idx)
	if !s.live || s.gen != h.gen {
		return ErrStaleHandle
	}

	s.live = false
	s.next = p.free
	p.free = h.idx
	p.live--
	p.releases++

	if p.waiting > 0 {
		p.waiting = 0
		close(p.wake)
		p.wake = make(chan struct{})
	}
	return nil
}

// Ray returns the ray behind h without validating liveness.
func (p *Pool) Ray(h Handle) *ray.Ray {
	return &p.slotAt(h.idx).ray
}

// ═══════════════════════════════════════════════════════════════════════════════════════════════
// INTROSPECTION
// ═══════════════════════════════════════════════════════════════════════════════════════════════

func (p *Pool) Capacity() int  { return p.capacity }
func (p *Pool) Policy() Policy { return p.policy }

// Live is the number of handles currently out.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity:    p.capacity,
		Allocated:   int(p.allocated),
		Live:        p.live,
		Acquires:    p.acquires,
		Releases:    p.releases,
		Exhaustions: p.exhaustions,
		Waits:       p.waits,
	}
}

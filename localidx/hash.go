// ════════════════════════════════════════════════════════════════════════════════════════════════
// Element Index
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Partitioned Ray Transport
// Component: Fixed-Capacity Robin Hood Map From Global Element Id To Local Slot
//
// Description:
//   Each rank owns a subset of the mesh's elements and stores them in a dense local array. The
//   index maps a stable, global element id to that local slot so a received ray's starting
//   element can be resolved without a general-purpose map. The table is built once per rank and
//   read concurrently afterwards; Put is not safe to run alongside Get.
//
// Design Principles:
//   - Fixed capacity with power-of-2 sizing for fast masking
//   - Robin Hood displacement bounds probe distances; lookups stop early on a miss
//   - Keys are stored shifted by one so that zero stays the empty sentinel
//
// ════════════════════════════════════════════════════════════════════════════════════════════════

package localidx

// Hash maps uint64 ids to uint32 slots.
type Hash struct {
	keys []uint64 // id+1, 0 = empty
	vals []uint32
	mask uint64
	n    int
}

// nextPow2 is the smallest power of two >= n.
func nextPow2(n int) uint64 {
	s := uint64(1)
	for s < uint64(n) {
		s <<= 1
	}
	return s
}

// New creates a table for capacity ids at a load factor of at most one half.
func New(capacity int) *Hash {
	if capacity < 1 {
		capacity = 1
	}
	sz := nextPow2(capacity * 2)
	return &Hash{
		keys: make([]uint64, sz),
		vals: make([]uint32, sz),
		mask: sz - 1,
	}
}

// home spreads consecutive ids across the table (Fibonacci hashing).
func (h *Hash) home(key uint64) uint64 {
	return (key * 0x9E3779B97F4A7C15) >> 32 & h.mask
}

// Put inserts id→val and returns val, or returns the existing value if id
// is already present. The id ^uint64(0) cannot be stored.
// Panics when the table is full.
func (h *Hash) Put(id uint64, val uint32) uint32 {
	if id == ^uint64(0) {
		panic("localidx: reserved id")
	}
	key := id + 1
	if h.n > int(h.mask) {
		panic("localidx: table full")
	}
	i := h.home(key)
	dist := uint64(0)

	for {
		k := h.keys[i]
		if k == 0 {
			h.keys[i], h.vals[i] = key, val
			h.n++
			return val
		}
		if k == key {
			return h.vals[i]
		}

		// occupant closer to home than we are: take its place
		kDist := (i + h.mask + 1 - h.home(k)) & h.mask
		if kDist < dist {
			key, h.keys[i] = h.keys[i], key
			val, h.vals[i] = h.vals[i], val
			dist = kDist
		}
		i = (i + 1) & h.mask
		dist++
	}
}

// Get returns the slot stored for id.
func (h *Hash) Get(id uint64) (uint32, bool) {
	key := id + 1
	if key == 0 {
		return 0, false
	}
	i := h.home(key)
	dist := uint64(0)

	for {
		k := h.keys[i]
		if k == 0 {
			return 0, false
		}
		if k == key {
			return h.vals[i], true
		}
		// Robin Hood invariant: key would have displaced this entry
		if (i+h.mask+1-h.home(k))&h.mask < dist {
			return 0, false
		}
		i = (i + 1) & h.mask
		dist++
	}
}

// Len is the number of stored ids.
func (h *Hash) Len() int { return h.n }

package mesh

// SideSet is a small fixed-capacity set of sides. It never allocates; the
// lookup is linear, which is fine for at most NumSides entries.
type SideSet struct {
	data [NumSides]uint32
	n    int
}

// Insert adds s if absent. Panics when the set is full.
func (s *SideSet) Insert(side uint32) {
	if s.Contains(side) {
		return
	}
	if s.n == len(s.data) {
		panic("mesh: SideSet out of space")
	}
	s.data[s.n] = side
	s.n++
}

// Contains reports whether side is present.
func (s *SideSet) Contains(side uint32) bool {
	for i := 0; i < s.n; i++ {
		if s.data[i] == side {
			return true
		}
	}
	return false
}

func (s *SideSet) Len() int    { return s.n }
func (s *SideSet) Empty() bool { return s.n == 0 }

// Clear empties the set without touching its storage.
func (s *SideSet) Clear() { s.n = 0 }

// Sides is a view of the entries in insertion order, valid until the next
// Insert or Clear.
func (s *SideSet) Sides() []uint32 { return s.data[:s.n] }

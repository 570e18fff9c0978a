package pipeline

import (
	"maps"
	"slices"
)

// Selection is a set of step positions chosen for a batch operation.
// The zero value is an empty selection ready to use.
type Selection struct {
	pos map[int]struct{}
}

// NewSelection returns a selection holding positions.
func NewSelection(positions ...int) Selection {
	var s Selection
	for _, p := range positions {
		s.Add(p)
	}
	return s
}

// Add marks position i as selected.
func (s *Selection) Add(i int) {
	if s.pos == nil {
		s.pos = make(map[int]struct{})
	}
	s.pos[i] = struct{}{}
}

// Toggle flips the selection state of position i.
func (s *Selection) Toggle(i int) {
	if s.Has(i) {
		delete(s.pos, i)
		return
	}
	s.Add(i)
}

// Has reports whether position i is selected.
func (s Selection) Has(i int) bool {
	_, ok := s.pos[i]
	return ok
}

// Len returns the number of selected positions.
func (s Selection) Len() int { return len(s.pos) }

// Sorted returns the selected positions in ascending order.
func (s Selection) Sorted() []int {
	return slices.Sorted(maps.Keys(s.pos))
}

// Clear empties the selection.
func (s *Selection) Clear() {
	s.pos = nil
}

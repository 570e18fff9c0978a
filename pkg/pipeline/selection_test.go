package pipeline

import (
	"slices"
	"testing"
)

func TestSelection(t *testing.T) {
	t.Parallel()

	var s Selection
	if s.Len() != 0 || s.Has(0) || len(s.Sorted()) != 0 {
		t.Fatal("zero selection should be empty")
	}

	s.Add(4)
	s.Add(1)
	s.Add(4)
	s.Toggle(2)
	if got, want := s.Sorted(), []int{1, 2, 4}; !slices.Equal(got, want) {
		t.Errorf("Sorted() = %v, want %v", got, want)
	}

	s.Toggle(4)
	if s.Has(4) || s.Len() != 2 {
		t.Errorf("Toggle did not deselect: %v", s.Sorted())
	}

	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len after Clear = %d", s.Len())
	}
	s.Toggle(0)
	if !s.Has(0) {
		t.Error("Toggle on cleared selection should select")
	}

	if got := NewSelection(3, 0, 3).Sorted(); !slices.Equal(got, []int{0, 3}) {
		t.Errorf("NewSelection Sorted() = %v", got)
	}
}

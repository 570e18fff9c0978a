// Package pipeline implements the guided-entry plan: an ordered list of steps,
// each targeting one table cell, plus the edit operations used to build it by
// hand or refine an AI suggestion.
//
// Every operation returns a new [Pipeline]. Neither the input pipeline nor its
// step slice is modified, so callers can keep the previous value for undo or
// comparison.
//
// Positions are the only handle on a step while editing. A [Selection] is a
// set of positions and is cleared by any structural edit because indices
// shift.
package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ErrOutOfRange is returned by index-based operations given a position
// outside [0, len(Steps)). The pipeline is returned unchanged alongside it.
var ErrOutOfRange = errors.New("pipeline: index out of range")

// ExpectedType is the kind of value a step expects to hear.
type ExpectedType string

const (
	ExpectNumber ExpectedType = "number"
	ExpectText   ExpectedType = "text"
)

// IsValid reports whether e is a recognised expected type.
func (e ExpectedType) IsValid() bool {
	return e == ExpectNumber || e == ExpectText
}

// Step targets one cell and carries the prompt spoken for it. It never holds
// a value; values arrive from the guided session.
type Step struct {
	ID             string       `json:"id"`
	Instruction    string       `json:"instruction"`
	TargetRowIndex int          `json:"targetRowIndex"`
	TargetColumnID string       `json:"targetColumnId"`
	ExpectedType   ExpectedType `json:"expectedType"`
}

// Pipeline is an ordered plan. Slice order is walk order.
type Pipeline struct {
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// Len returns the number of steps.
func (p Pipeline) Len() int { return len(p.Steps) }

// Clone returns a copy of p with its own step slice.
func (p Pipeline) Clone() Pipeline {
	return Pipeline{Description: p.Description, Steps: slices.Clone(p.Steps)}
}

// WithDescription returns a copy of p with the description replaced.
func WithDescription(p Pipeline, desc string) Pipeline {
	out := p.Clone()
	out.Description = desc
	return out
}

func (p Pipeline) inRange(i int) bool {
	return i >= 0 && i < len(p.Steps)
}

func (p Pipeline) ids() map[string]bool {
	ids := make(map[string]bool, len(p.Steps))
	for _, s := range p.Steps {
		ids[s.ID] = true
	}
	return ids
}

// NewStepID returns an id that is not present in existing.
func NewStepID(existing map[string]bool) string {
	for {
		id := "step_" + uuid.NewString()
		if !existing[id] {
			return id
		}
	}
}

// InsertStep appends a default step. Its row is the row of the current last
// step (0 for an empty pipeline), its column is defaultColumnID (normally the
// table's first column) and it expects text. The column is not checked
// against the table.
func InsertStep(p Pipeline, defaultColumnID string) Pipeline {
	row := 0
	if n := len(p.Steps); n > 0 {
		row = p.Steps[n-1].TargetRowIndex
	}
	return Append(p, Step{
		TargetRowIndex: row,
		TargetColumnID: defaultColumnID,
		ExpectedType:   ExpectText,
	})
}

// Append adds s to the end of p. A missing or duplicate id is replaced with
// a fresh one and an unknown expected type becomes text. The target row is
// kept as given; [Check] reports negative rows.
func Append(p Pipeline, s Step) Pipeline {
	ids := p.ids()
	if s.ID == "" || ids[s.ID] {
		s.ID = NewStepID(ids)
	}
	if !s.ExpectedType.IsValid() {
		s.ExpectedType = ExpectText
	}
	out := p.Clone()
	out.Steps = append(out.Steps, s)
	return out
}

// DeleteStep removes the step at position i.
func DeleteStep(p Pipeline, i int) (Pipeline, error) {
	if !p.inRange(i) {
		return p, fmt.Errorf("%w: delete %d of %d", ErrOutOfRange, i, len(p.Steps))
	}
	out := p.Clone()
	out.Steps = slices.Delete(out.Steps, i, i+1)
	return out, nil
}

// ReorderStep moves the step at from so that it ends up at position to,
// using list splice semantics: the step is removed first and then inserted at
// index to of the shortened list.
func ReorderStep(p Pipeline, from, to int) (Pipeline, error) {
	if !p.inRange(from) || !p.inRange(to) {
		return p, fmt.Errorf("%w: reorder %d -> %d of %d", ErrOutOfRange, from, to, len(p.Steps))
	}
	out := p.Clone()
	if from == to {
		return out, nil
	}
	moved := out.Steps[from]
	out.Steps = slices.Delete(out.Steps, from, from+1)
	out.Steps = slices.Insert(out.Steps, to, moved)
	return out, nil
}

// DuplicateSelected copies the selected steps to the tail of the pipeline,
// shifted down by the row span of the selection.
//
// With selected rows r1..rk the offset is (max-min)+1, so a block covering N
// rows is replicated onto the next N rows. A single-row selection shifts by
// exactly one. Copies keep instruction, column and expected type, get fresh
// ids, and are appended in ascending position order. Out-of-range positions
// are ignored.
func DuplicateSelected(p Pipeline, sel Selection) Pipeline {
	picked := selectedSteps(p, sel)
	if len(picked) == 0 {
		return p.Clone()
	}

	minRow, maxRow := picked[0].TargetRowIndex, picked[0].TargetRowIndex
	for _, s := range picked[1:] {
		minRow = min(minRow, s.TargetRowIndex)
		maxRow = max(maxRow, s.TargetRowIndex)
	}
	offset := max(maxRow-minRow+1, 1)

	out := p.Clone()
	ids := p.ids()
	for _, s := range picked {
		dup := s
		dup.ID = NewStepID(ids)
		ids[dup.ID] = true
		dup.TargetRowIndex = s.TargetRowIndex + offset
		out.Steps = append(out.Steps, dup)
	}
	return out
}

// DeleteSelected removes every selected position in one pass. Positions
// refer to p as passed in, not to intermediate states.
func DeleteSelected(p Pipeline, sel Selection) Pipeline {
	out := Pipeline{Description: p.Description, Steps: make([]Step, 0, len(p.Steps))}
	for i, s := range p.Steps {
		if sel.Has(i) {
			continue
		}
		out.Steps = append(out.Steps, s)
	}
	return out
}

func selectedSteps(p Pipeline, sel Selection) []Step {
	var picked []Step
	for _, i := range sel.Sorted() {
		if p.inRange(i) {
			picked = append(picked, p.Steps[i])
		}
	}
	return picked
}

// StepEdit carries optional field updates for [EditStep]. Nil fields are
// left untouched.
type StepEdit struct {
	Instruction *string `json:"instruction,omitempty"`

	// DisplayRow is the 1-based row number as typed by a person. It is
	// converted with [RowFromDisplay].
	DisplayRow *string `json:"displayRow,omitempty"`

	TargetColumnID *string       `json:"targetColumnId,omitempty"`
	ExpectedType   *ExpectedType `json:"expectedType,omitempty"`
}

// EditStep applies e to the step at position i.
func EditStep(p Pipeline, i int, e StepEdit) (Pipeline, error) {
	if !p.inRange(i) {
		return p, fmt.Errorf("%w: edit %d of %d", ErrOutOfRange, i, len(p.Steps))
	}
	out := p.Clone()
	s := out.Steps[i]
	if e.Instruction != nil {
		s.Instruction = *e.Instruction
	}
	if e.DisplayRow != nil {
		s.TargetRowIndex = RowFromDisplay(*e.DisplayRow)
	}
	if e.TargetColumnID != nil {
		s.TargetColumnID = *e.TargetColumnID
	}
	if e.ExpectedType != nil && e.ExpectedType.IsValid() {
		s.ExpectedType = *e.ExpectedType
	}
	out.Steps[i] = s
	return out, nil
}

// RowFromDisplay converts a 1-based row number typed by a person into a
// 0-based index. Anything below 1 or non-numeric maps to 0.
func RowFromDisplay(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return max(n-1, 0)
}

// RowToDisplay converts a 0-based index into the 1-based number shown to people.
func RowToDisplay(i int) string {
	return strconv.Itoa(i + 1)
}

package pipeline

// Editor holds a pipeline under interactive editing together with the
// current multi-selection. Structural edits replace the pipeline and clear
// the selection; field edits keep it.
//
// Editor is not safe for concurrent use.
type Editor struct {
	p   Pipeline
	sel Selection
}

// NewEditor starts editing p.
func NewEditor(p Pipeline) *Editor {
	return &Editor{p: p.Clone()}
}

// Pipeline returns a copy of the pipeline being edited.
func (e *Editor) Pipeline() Pipeline { return e.p.Clone() }

// Selection returns the current selection positions in ascending order.
func (e *Editor) Selection() []int { return e.sel.Sorted() }

// Toggle flips the selection state of position i. Out-of-range positions are
// ignored.
func (e *Editor) Toggle(i int) {
	if e.p.inRange(i) {
		e.sel.Toggle(i)
	}
}

// ClearSelection empties the selection.
func (e *Editor) ClearSelection() { e.sel.Clear() }

// SetDescription replaces the free-text description.
func (e *Editor) SetDescription(desc string) {
	e.p = WithDescription(e.p, desc)
}

// Insert appends a default step targeting defaultColumnID.
func (e *Editor) Insert(defaultColumnID string) {
	e.p = InsertStep(e.p, defaultColumnID)
	e.sel.Clear()
}

// Delete removes the step at position i.
func (e *Editor) Delete(i int) error {
	p, err := DeleteStep(e.p, i)
	if err != nil {
		return err
	}
	e.p = p
	e.sel.Clear()
	return nil
}

// Reorder moves the step at from to position to.
func (e *Editor) Reorder(from, to int) error {
	p, err := ReorderStep(e.p, from, to)
	if err != nil {
		return err
	}
	e.p = p
	e.sel.Clear()
	return nil
}

// Edit applies a field-level update to the step at position i.
func (e *Editor) Edit(i int, edit StepEdit) error {
	p, err := EditStep(e.p, i, edit)
	if err != nil {
		return err
	}
	e.p = p
	return nil
}

// DuplicateSelected duplicates the selected steps with the smart row offset.
func (e *Editor) DuplicateSelected() {
	e.p = DuplicateSelected(e.p, e.sel)
	e.sel.Clear()
}

// DeleteSelected removes all selected steps.
func (e *Editor) DeleteSelected() {
	e.p = DeleteSelected(e.p, e.sel)
	e.sel.Clear()
}

package table

import "slices"

// VoiceAction is the intent recognised in a free-form voice edit.
type VoiceAction string

const (
	ActionUpdate  VoiceAction = "update"
	ActionAppend  VoiceAction = "append"
	ActionDelete  VoiceAction = "delete"
	ActionUnknown VoiceAction = "unknown"
)

// IsValid reports whether a is a recognised action.
func (a VoiceAction) IsValid() bool {
	switch a {
	case ActionUpdate, ActionAppend, ActionDelete, ActionUnknown:
		return true
	}
	return false
}

// NewRowIndex marks a RowUpdate that creates a new row.
const NewRowIndex = -1

// RowUpdate is a set of cell writes for one row.
type RowUpdate struct {
	// RowIndex is the 0-based target row, or NewRowIndex for a new row.
	RowIndex int `json:"rowIndex"`

	// Updates maps column ids to new values.
	Updates map[string]any `json:"updates"`
}

// VoiceUpdateResult is the structured intent produced by the voice command
// interpreter.
type VoiceUpdateResult struct {
	Action     VoiceAction `json:"action"`
	Feedback   string      `json:"feedback"`
	RowUpdates []RowUpdate `json:"rowUpdates"`
}

// ChangesRowCount reports whether applying res would add or remove rows.
func (res VoiceUpdateResult) ChangesRowCount() bool {
	if res.Action == ActionAppend || res.Action == ActionDelete {
		return len(res.RowUpdates) > 0
	}
	for _, u := range res.RowUpdates {
		if u.RowIndex == NewRowIndex {
			return true
		}
	}
	return false
}

// ApplyVoiceResult applies res to t and returns how many row updates took
// effect.
//
// Appends happen when the action is append or the row index is NewRowIndex.
// Delete removes each addressed row (highest index first so earlier indices
// stay valid). Everything else merges into the addressed row, keeping fields
// that the update does not mention. Out-of-range indices are skipped without
// aborting the rest of the batch.
func (t *Table) ApplyVoiceResult(res VoiceUpdateResult) int {
	if res.Action == ActionDelete {
		return t.applyDeletes(res.RowUpdates)
	}

	applied := 0
	for _, u := range res.RowUpdates {
		if u.RowIndex == NewRowIndex || res.Action == ActionAppend {
			row := make(Row, len(u.Updates))
			for k, v := range u.Updates {
				row[k] = v
			}
			t.Rows = append(t.Rows, row)
			applied++
			continue
		}
		if u.RowIndex < 0 || u.RowIndex >= len(t.Rows) {
			continue
		}
		merged := t.Rows[u.RowIndex].Clone()
		for k, v := range u.Updates {
			merged[k] = v
		}
		t.Rows[u.RowIndex] = merged
		applied++
	}
	return applied
}

func (t *Table) applyDeletes(updates []RowUpdate) int {
	seen := make(map[int]bool, len(updates))
	var idx []int
	for _, u := range updates {
		if u.RowIndex < 0 || u.RowIndex >= len(t.Rows) || seen[u.RowIndex] {
			continue
		}
		seen[u.RowIndex] = true
		idx = append(idx, u.RowIndex)
	}
	// Descending so removals do not shift pending targets.
	slices.Sort(idx)
	slices.Reverse(idx)
	for _, i := range idx {
		_ = t.DeleteRow(i)
	}
	return len(idx)
}

package pipeline

import "fmt"

// Issue describes a questionable reference in a step. Issues are advisory:
// pipelines with dangling references are still valid input everywhere.
type Issue struct {
	Position int    `json:"position"`
	StepID   string `json:"stepId"`
	Message  string `json:"message"`
}

// Check reports steps whose column is not in columnIDs or whose row is
// negative. It never rejects the pipeline.
func Check(p Pipeline, columnIDs []string) []Issue {
	known := make(map[string]bool, len(columnIDs))
	for _, id := range columnIDs {
		known[id] = true
	}
	var issues []Issue
	for i, s := range p.Steps {
		if !known[s.TargetColumnID] {
			issues = append(issues, Issue{
				Position: i,
				StepID:   s.ID,
				Message:  fmt.Sprintf("column %q does not exist", s.TargetColumnID),
			})
		}
		if s.TargetRowIndex < 0 {
			issues = append(issues, Issue{
				Position: i,
				StepID:   s.ID,
				Message:  fmt.Sprintf("row %d is negative", s.TargetRowIndex),
			})
		}
	}
	return issues
}

// Package synth turns an AI pipeline suggestion into a [pipeline.Pipeline].
//
// The adapter only builds the request (columns, a small row sample, the row
// count and the language) and translates the answer 1:1. It does not check
// that suggested rows or columns exist; consumers tolerate dangling
// references.
package synth

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/voxtable/pkg/pipeline"
	"github.com/MrWong99/voxtable/pkg/table"
)

// SampleSize is the number of leading rows sent with a suggestion request.
const SampleSize = 5

// SuggestRequest is the input of the pipeline-suggestion capability.
type SuggestRequest struct {
	Columns   []table.Column
	Sample    []table.Row
	TotalRows int
	Language  string
}

// SuggestedStep is one step as proposed by the capability. ID is optional.
type SuggestedStep struct {
	ID             string `json:"id,omitempty"`
	Instruction    string `json:"instruction"`
	TargetRowIndex int    `json:"targetRowIndex"`
	TargetColumnID string `json:"targetColumnId"`
	ExpectedType   string `json:"expectedType"`
}

// Suggestion is the capability's answer.
type Suggestion struct {
	Description string          `json:"description"`
	Steps       []SuggestedStep `json:"steps"`
}

// Suggester is the pipeline-suggestion capability. Failures must be
// *capability.RemoteError.
type Suggester interface {
	Suggest(ctx context.Context, req SuggestRequest) (*Suggestion, error)
}

// Request builds the suggestion request for t.
func Request(t *table.Table, lang string) SuggestRequest {
	n := min(len(t.Rows), SampleSize)
	sample := make([]table.Row, n)
	for i := range n {
		sample[i] = t.Rows[i].Clone()
	}
	cols := make([]table.Column, len(t.Columns))
	copy(cols, t.Columns)
	return SuggestRequest{
		Columns:   cols,
		Sample:    sample,
		TotalRows: len(t.Rows),
		Language:  lang,
	}
}

// Synthesize asks s for a pipeline over t. On failure no pipeline is
// returned; partial suggestions are never accepted.
func Synthesize(ctx context.Context, s Suggester, t *table.Table, lang string) (pipeline.Pipeline, error) {
	sug, err := s.Suggest(ctx, Request(t, lang))
	if err != nil {
		return pipeline.Pipeline{}, fmt.Errorf("synth: suggest: %w", err)
	}
	if sug == nil {
		return pipeline.Pipeline{}, fmt.Errorf("synth: suggest returned no result")
	}
	return FromSuggestion(*sug), nil
}

// FromSuggestion translates sug into a Pipeline. Missing or repeated step ids
// are replaced with fresh ones and unknown expected types become text. Rows
// and columns are kept as suggested, even when they do not exist.
func FromSuggestion(sug Suggestion) pipeline.Pipeline {
	p := pipeline.Pipeline{Description: strings.TrimSpace(sug.Description)}
	for _, s := range sug.Steps {
		p = pipeline.Append(p, pipeline.Step{
			ID:             strings.TrimSpace(s.ID),
			Instruction:    strings.TrimSpace(s.Instruction),
			TargetRowIndex: s.TargetRowIndex,
			TargetColumnID: s.TargetColumnID,
			ExpectedType:   pipeline.ExpectedType(strings.ToLower(strings.TrimSpace(s.ExpectedType))),
		})
	}
	return p
}

package synth

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/MrWong99/voxtable/internal/capability"
	"github.com/MrWong99/voxtable/pkg/provider/llm"
	"github.com/MrWong99/voxtable/pkg/table"
)

const suggestSystemPrompt = `You plan guided voice data entry for a spreadsheet.
Given the columns, a sample of the first rows and the total row count, propose
an ordered list of steps. Each step targets exactly one cell that the user
will dictate, with a short instruction that is read aloud.

Reply with a single JSON object and nothing else:
{"description": string,
 "steps": [{"instruction": string, "targetRowIndex": int (0-based),
            "targetColumnId": string (a column id), "expectedType": "number" | "text"}]}

Write the description and every instruction in the requested language.`

// LLMSuggester implements [Suggester] with a language model.
type LLMSuggester struct {
	client *capability.Client
}

// NewLLMSuggester returns a Suggester that uses c.
func NewLLMSuggester(c *capability.Client) *LLMSuggester {
	return &LLMSuggester{client: c}
}

// Suggest implements Suggester.
func (s *LLMSuggester) Suggest(ctx context.Context, req SuggestRequest) (*Suggestion, error) {
	payload, err := json.Marshal(struct {
		Language  string         `json:"language"`
		Columns   []table.Column `json:"columns"`
		Sample    []table.Row    `json:"sampleRows"`
		TotalRows int            `json:"totalRows"`
	}{req.Language, req.Columns, req.Sample, req.TotalRows})
	if err != nil {
		return nil, capability.Remote(capability.Suggest, "could not encode the table", err)
	}

	var out Suggestion
	err = s.client.CompleteJSON(ctx, capability.Suggest, llm.CompletionRequest{
		SystemPrompt: suggestSystemPrompt,
		Messages:     []llm.Message{llm.UserMessage(string(payload))},
		Temperature:  0.2,
		JSONMode:     true,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Steps) == 0 && strings.TrimSpace(out.Description) == "" {
		return nil, capability.Remote(capability.Suggest, "the model returned an empty plan", nil)
	}
	return &out, nil
}

// Ensure LLMSuggester implements Suggester.
var _ Suggester = (*LLMSuggester)(nil)

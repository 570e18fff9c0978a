package voicecmd

import (
	"context"
	"encoding/json"

	"github.com/MrWong99/voxtable/internal/capability"
	"github.com/MrWong99/voxtable/pkg/provider/llm"
	"github.com/MrWong99/voxtable/pkg/table"
)

// ParseRequest is the input of the intent-parsing capability.
type ParseRequest struct {
	Utterance string
	Columns   []table.Column
	RowCount  int
	Language  string
}

// Parser is the intent-parsing capability. Failures must be
// *capability.RemoteError.
type Parser interface {
	Parse(ctx context.Context, req ParseRequest) (*table.VoiceUpdateResult, error)
}

const parseSystemPrompt = `You edit a spreadsheet from one spoken command.
You receive the command, the columns (id, label, type), the number of rows
and the user's language. Decide whether the user wants to update existing
rows, append new rows or delete rows.

Reply with a single JSON object and nothing else:
{"action": "update" | "append" | "delete" | "unknown",
 "feedback": string (one short sentence in the user's language),
 "rowUpdates": [{"rowIndex": int (0-based, -1 for a new row),
                 "updates": {columnId: value}}]}

Use column ids as keys. Rows are numbered from 1 when spoken.
Use "unknown" with an explanation in feedback when the command is unclear.`

// LLMParser implements [Parser] with a language model.
type LLMParser struct {
	client *capability.Client
}

// NewLLMParser returns a Parser that uses c.
func NewLLMParser(c *capability.Client) *LLMParser {
	return &LLMParser{client: c}
}

// Parse implements Parser.
func (p *LLMParser) Parse(ctx context.Context, req ParseRequest) (*table.VoiceUpdateResult, error) {
	payload, err := json.Marshal(struct {
		Command  string         `json:"command"`
		Language string         `json:"language"`
		Columns  []table.Column `json:"columns"`
		RowCount int            `json:"rowCount"`
	}{req.Utterance, req.Language, req.Columns, req.RowCount})
	if err != nil {
		return nil, capability.Remote(capability.Voice, "could not encode the command", err)
	}

	var out table.VoiceUpdateResult
	err = p.client.CompleteJSON(ctx, capability.Voice, llm.CompletionRequest{
		SystemPrompt: parseSystemPrompt,
		Messages:     []llm.Message{llm.UserMessage(string(payload))},
		JSONMode:     true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

var _ Parser = (*LLMParser)(nil)

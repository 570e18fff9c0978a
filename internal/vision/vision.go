// Package vision builds tables from photos of printed or handwritten tables
// using a vision-capable language model.
package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/voxtable/internal/capability"
	"github.com/MrWong99/voxtable/pkg/provider/llm"
	"github.com/MrWong99/voxtable/pkg/table"
)

// ExtractedColumn is one column as read from the image.
type ExtractedColumn struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
}

// Extraction is the capability's reading of an image. Rows are keyed by the
// extracted column ids.
type Extraction struct {
	Columns []ExtractedColumn `json:"columns"`
	Rows    []map[string]any  `json:"rows"`
}

// Extractor is the vision capability. Failures must be
// *capability.RemoteError.
type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (*Extraction, error)
}

const extractSystemPrompt = `You transcribe tables from photos.
Read every column header and every row of the table in the image.

Reply with a single JSON object and nothing else:
{"columns": [{"id": string, "label": string, "type": "text" | "number" | "date" | "boolean"}],
 "rows": [{columnId: value}]}

Use short lowercase ids without spaces. Numbers must be JSON numbers.
Leave unreadable cells out of the row.`

// LLMExtractor implements [Extractor] with a vision-capable language model.
type LLMExtractor struct {
	client *capability.Client
}

// NewLLMExtractor returns an Extractor that uses c.
func NewLLMExtractor(c *capability.Client) *LLMExtractor {
	return &LLMExtractor{client: c}
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, image []byte, mimeType string) (*Extraction, error) {
	if len(image) == 0 {
		return nil, capability.Remote(capability.Vision, "the image is empty", nil)
	}
	var out Extraction
	err := e.client.CompleteJSON(ctx, capability.Vision, llm.CompletionRequest{
		SystemPrompt: extractSystemPrompt,
		Messages: []llm.Message{
			llm.UserMessage("Extract the table from this image.", llm.Image{MimeType: mimeType, Data: image}),
		},
		JSONMode: true,
	}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Columns) == 0 {
		return nil, capability.Remote(capability.Vision, "no table was found in the image", nil)
	}
	return &out, nil
}

var _ Extractor = (*LLMExtractor)(nil)

// Scan extracts a table from image and names it name.
func Scan(ctx context.Context, ex Extractor, name string, image []byte, mimeType string) (*table.Table, error) {
	res, err := ex.Extract(ctx, image, mimeType)
	if err != nil {
		return nil, fmt.Errorf("vision: extract: %w", err)
	}
	if res == nil {
		return nil, capability.Remote(capability.Vision, "no table was found in the image", nil)
	}
	return ToTable(name, *res), nil
}

// ToTable converts ex into a table. Empty or repeated column ids are replaced
// with positional ids (col_N) and rows are re-keyed accordingly. Unknown
// column types become text; cells of number and boolean columns are coerced
// where they parse.
func ToTable(name string, ex Extraction) *table.Table {
	cols := make([]table.Column, 0, len(ex.Columns))
	rekey := make(map[string]string, len(ex.Columns))
	seen := make(map[string]bool, len(ex.Columns))

	for i, c := range ex.Columns {
		id := strings.TrimSpace(c.ID)
		if id == "" || seen[id] {
			id = fmt.Sprintf("col_%d", i)
			for seen[id] {
				id += "_"
			}
		}
		seen[id] = true
		if orig := strings.TrimSpace(c.ID); orig != "" {
			if _, ok := rekey[orig]; !ok {
				rekey[orig] = id
			}
		}

		label := strings.TrimSpace(c.Label)
		if label == "" {
			label = fmt.Sprintf("Column %d", i+1)
		}
		typ := table.ColumnType(strings.ToLower(strings.TrimSpace(c.Type)))
		if !typ.IsValid() {
			typ = table.TypeText
		}
		cols = append(cols, table.Column{ID: id, Label: label, Type: typ})
	}

	t := table.New(name, cols)
	for _, raw := range ex.Rows {
		row := make(table.Row, len(raw))
		for k, v := range raw {
			id, ok := rekey[k]
			if !ok {
				id = k
			}
			if col, ok := t.Column(id); ok {
				v = table.Coerce(v, col.Type)
			}
			row[id] = v
		}
		t.AppendRow(row)
	}
	return t
}

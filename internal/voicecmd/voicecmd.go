// Package voicecmd interprets one free-form voice command against a table.
//
// Unlike the guided session, interpretation is stateless: the capability
// picks the target rows and columns itself. [Interpreter] normalizes what the
// capability returns so that [table.Table.ApplyVoiceResult] only ever sees a
// known action, live column ids where they can be resolved, and values of the
// column's type.
package voicecmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/voxtable/internal/capability"
	"github.com/MrWong99/voxtable/internal/observe"
	"github.com/MrWong99/voxtable/pkg/table"
)

// Option configures an [Interpreter].
type Option func(*Interpreter)

// WithResolver replaces the default column resolver.
func WithResolver(r *Resolver) Option {
	return func(in *Interpreter) { in.resolver = r }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(in *Interpreter) { in.metrics = m }
}

// Interpreter turns utterances into normalized [table.VoiceUpdateResult]s.
type Interpreter struct {
	parser   Parser
	resolver *Resolver
	metrics  *observe.Metrics
}

// New returns an Interpreter that asks p for intents.
func New(p Parser, opts ...Option) *Interpreter {
	in := &Interpreter{parser: p, resolver: NewResolver()}
	for _, o := range opts {
		o(in)
	}
	if in.metrics == nil {
		in.metrics = observe.DefaultMetrics()
	}
	return in
}

// Interpret parses utterance against t. An empty utterance yields an unknown
// result without calling the capability. t is not modified.
func (in *Interpreter) Interpret(ctx context.Context, t *table.Table, utterance, lang string) (table.VoiceUpdateResult, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return table.VoiceUpdateResult{Action: table.ActionUnknown}, nil
	}
	if in.parser == nil {
		return table.VoiceUpdateResult{}, capability.Remote(capability.Voice, "voice commands are not configured", nil)
	}

	raw, err := in.parser.Parse(ctx, ParseRequest{
		Utterance: utterance,
		Columns:   t.Columns,
		RowCount:  len(t.Rows),
		Language:  lang,
	})
	if err != nil {
		return table.VoiceUpdateResult{}, fmt.Errorf("voicecmd: parse: %w", err)
	}
	if raw == nil {
		return table.VoiceUpdateResult{}, capability.Remote(capability.Voice, "the model returned no command", nil)
	}

	res := in.normalize(*raw, t.Columns)
	in.metrics.RecordVoiceCommand(ctx, string(res.Action))
	slog.Debug("voicecmd: interpreted", "action", res.Action, "rows", len(res.RowUpdates))
	return res, nil
}

// Apply applies res to t and returns how many row updates took effect.
func Apply(t *table.Table, res table.VoiceUpdateResult) int {
	return t.ApplyVoiceResult(res)
}

func (in *Interpreter) normalize(res table.VoiceUpdateResult, cols []table.Column) table.VoiceUpdateResult {
	out := table.VoiceUpdateResult{
		Action:   table.VoiceAction(strings.ToLower(strings.TrimSpace(string(res.Action)))),
		Feedback: strings.TrimSpace(res.Feedback),
	}
	if !out.Action.IsValid() {
		out.Action = table.ActionUnknown
	}
	if out.Action == table.ActionUnknown {
		return out
	}

	for _, u := range res.RowUpdates {
		// Indices other than NewRowIndex that fall outside the table pass
		// through unchanged and are dropped when applied.
		nu := table.RowUpdate{RowIndex: u.RowIndex, Updates: make(map[string]any, len(u.Updates))}
		for key, v := range u.Updates {
			id, ok := in.resolver.Resolve(key, cols)
			if !ok {
				// Unknown keys are kept; tables tolerate stale keys.
				nu.Updates[key] = v
				continue
			}
			col, _ := columnByID(cols, id)
			nu.Updates[id] = table.Coerce(v, col.Type)
		}
		out.RowUpdates = append(out.RowUpdates, nu)
	}
	return out
}

func columnByID(cols []table.Column, id string) (table.Column, bool) {
	for _, c := range cols {
		if c.ID == id {
			return c, true
		}
	}
	return table.Column{}, false
}

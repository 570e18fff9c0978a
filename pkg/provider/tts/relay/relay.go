// Package relay provides a tts.Provider that hands speech requests to a
// synthesiser running elsewhere, typically the browser's speech synthesis.
package relay

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/voxtable/pkg/provider/tts"
)

// ErrNoSink is returned when the provider has nowhere to send speech.
var ErrNoSink = errors.New("relay: no speech sink")

// Sink receives speech requests.
type Sink interface {
	Say(ctx context.Context, u tts.Utterance) error
	Hush() error
}

// Provider implements [tts.Provider] over a [Sink]. Blank utterances are
// not forwarded.
type Provider struct {
	Sink Sink

	// Rate, if non-zero, is applied to utterances without their own rate.
	Rate float64
}

var _ tts.Provider = (*Provider)(nil)

// Speak implements tts.Provider.
func (p *Provider) Speak(ctx context.Context, u tts.Utterance) error {
	if p.Sink == nil {
		return ErrNoSink
	}
	u.Text = strings.TrimSpace(u.Text)
	if u.Text == "" {
		return nil
	}
	if u.Rate == 0 {
		u.Rate = p.Rate
	}
	return p.Sink.Say(ctx, u)
}

// Cancel implements tts.Provider.
func (p *Provider) Cancel() error {
	if p.Sink == nil {
		return ErrNoSink
	}
	return p.Sink.Hush()
}

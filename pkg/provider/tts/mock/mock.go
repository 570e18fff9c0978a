// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to verify which utterances a caller asked to speak.
//
// Example:
//
//	p := &mock.Provider{}
//	_ = p.Speak(ctx, tts.Utterance{Text: "Enter the price", Language: "en-US"})
//	p.Spoken() // ["Enter the price"]
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxtable/pkg/provider/tts"
)

// SpeakCall records a single invocation of Speak.
type SpeakCall struct {
	// Ctx is the context passed to Speak.
	Ctx context.Context
	// Utterance is the utterance passed to Speak.
	Utterance tts.Utterance
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SpeakErr, if non-nil, is returned by every Speak call.
	SpeakErr error

	// CancelErr, if non-nil, is returned by every Cancel call.
	CancelErr error

	// SpeakCalls records every call to Speak in order.
	SpeakCalls []SpeakCall

	// CancelCallCount is the number of times Cancel was called.
	CancelCallCount int
}

// Speak records the call and returns SpeakErr.
func (p *Provider) Speak(ctx context.Context, u tts.Utterance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpeakCalls = append(p.SpeakCalls, SpeakCall{Ctx: ctx, Utterance: u})
	return p.SpeakErr
}

// Cancel records the call and returns CancelErr.
func (p *Provider) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CancelCallCount++
	return p.CancelErr
}

// Spoken returns the text of every Speak call in order. Thread-safe.
func (p *Provider) Spoken() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SpeakCalls))
	for i, c := range p.SpeakCalls {
		out[i] = c.Utterance.Text
	}
	return out
}

// Cancels returns CancelCallCount. Thread-safe.
func (p *Provider) Cancels() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CancelCallCount
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SpeakCalls = nil
	p.CancelCallCount = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)

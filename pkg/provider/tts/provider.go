// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Speech in voxtable is fire and forget: a caller asks for an utterance to be
// spoken and moves on. A new utterance replaces whatever was still playing.
// The browser does the actual synthesis; a provider relays the request to it
// (or to any other synthesiser).
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Speak starts speaking u, interrupting any utterance still in progress.
	// It returns once the request has been handed off, not when playback ends.
	// Returns an error if the request could not be delivered.
	Speak(ctx context.Context, u Utterance) error

	// Cancel stops any utterance in progress. Cancelling when nothing is
	// playing is a no-op.
	Cancel() error
}

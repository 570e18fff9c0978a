// Package stt defines the Provider interface for Speech-to-Text backends.
//
// voxtable does not recognise audio itself. The browser runs the recogniser
// and relays its results; an STT provider adapts that relay (or any other
// recogniser) to a uniform session shape. A session is single-shot: Start arms
// the recogniser for one utterance, and it either produces one final
// transcript, reports an error, or is stopped. Partials may arrive while the
// recogniser is listening and are for display only.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrSessionClosed is returned by SessionHandle methods called after Close.
var ErrSessionClosed = errors.New("stt: session closed")

// StreamConfig describes recognition settings for a new STT session.
type StreamConfig struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US", "ru-RU").
	// An empty string lets the provider pick its default.
	Language string

	// Interim asks the recogniser to emit partial transcripts.
	Interim bool
}

// SessionHandle represents an open STT session. It is an interface so that
// test code can provide mock implementations without a live recogniser.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// Start arms the recogniser for a single utterance. Calling Start while
	// already listening is a no-op.
	Start() error

	// Stop disarms the recogniser. Any result already in flight may still be
	// delivered.
	Stop() error

	// Partials returns a read-only channel of interim Transcript values. They
	// must never be written to a table. The channel is closed when the session
	// ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel of committed Transcript values.
	// The channel is closed when the session ends.
	Finals() <-chan Transcript

	// Errors returns a read-only channel of recognition failures (no speech,
	// permission denied, network). The channel is closed when the session ends.
	Errors() <-chan error

	// Close terminates the session and releases its resources. After Close
	// returns, the output channels will be closed. Calling Close more than once
	// is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new recognition session. The returned handle is idle
	// until Start is called. The caller owns the handle and must call Close.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}

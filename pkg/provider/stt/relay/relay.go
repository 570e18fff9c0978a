// Package relay provides an stt.SessionHandle for recognisers that run
// elsewhere, typically in the browser. The host forwards the recogniser's
// results with [Session.Partial], [Session.Final] and [Session.Fail]; the
// session forwards arm and disarm requests to a [Controller].
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxtable/pkg/provider/stt"
)

// bufferSize is the capacity of each output channel.
const bufferSize = 16

// Controller is the remote end of the relay.
type Controller interface {
	// Arm asks the remote recogniser to listen for one utterance.
	Arm() error
	// Disarm asks it to stop listening.
	Disarm() error
}

// ControllerFuncs adapts two functions to [Controller].
type ControllerFuncs struct {
	ArmFunc    func() error
	DisarmFunc func() error
}

// Arm implements Controller.
func (c ControllerFuncs) Arm() error { return c.ArmFunc() }

// Disarm implements Controller.
func (c ControllerFuncs) Disarm() error { return c.DisarmFunc() }

// Session is an [stt.SessionHandle] fed by a remote recogniser.
type Session struct {
	ctl      Controller
	language string

	mu        sync.Mutex
	closed    bool
	listening bool

	partials chan stt.Transcript
	finals   chan stt.Transcript
	errs     chan error
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession returns an idle session that arms and disarms through ctl.
func NewSession(ctl Controller, cfg stt.StreamConfig) *Session {
	return &Session{
		ctl:      ctl,
		language: cfg.Language,
		partials: make(chan stt.Transcript, bufferSize),
		finals:   make(chan stt.Transcript, bufferSize),
		errs:     make(chan error, bufferSize),
	}
}

// Start implements stt.SessionHandle.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return stt.ErrSessionClosed
	}
	if s.listening {
		s.mu.Unlock()
		return nil
	}
	s.listening = true
	s.mu.Unlock()

	if err := s.ctl.Arm(); err != nil {
		s.mu.Lock()
		s.listening = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// Stop implements stt.SessionHandle.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return stt.ErrSessionClosed
	}
	s.listening = false
	s.mu.Unlock()
	return s.ctl.Disarm()
}

// Listening reports whether the recogniser is armed.
func (s *Session) Listening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listening
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Errors implements stt.SessionHandle.
func (s *Session) Errors() <-chan error { return s.errs }

// Partial forwards an interim transcript. Partials are dropped when the
// consumer is behind.
func (s *Session) Partial(text string) error {
	return s.push(func() bool {
		select {
		case s.partials <- s.transcript(text, false):
		default:
		}
		return true
	})
}

// Final forwards the committed transcript and ends the listening cycle.
func (s *Session) Final(text string) error {
	return s.push(func() bool {
		s.listening = false
		select {
		case s.finals <- s.transcript(text, true):
			return true
		default:
			return false
		}
	})
}

// Fail forwards a recognition failure and ends the listening cycle.
func (s *Session) Fail(err error) error {
	return s.push(func() bool {
		s.listening = false
		select {
		case s.errs <- err:
			return true
		default:
			return false
		}
	})
}

func (s *Session) push(send func() bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	if !send() {
		slog.Warn("relay: consumer is not keeping up, result dropped")
	}
	return nil
}

func (s *Session) transcript(text string, final bool) stt.Transcript {
	return stt.Transcript{
		Text:       text,
		IsFinal:    final,
		Language:   s.language,
		ReceivedAt: time.Now(),
	}
}

// Close implements stt.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.listening = false
	close(s.partials)
	close(s.finals)
	close(s.errs)
	return nil
}

// Provider opens relay sessions over a fixed controller. It implements
// [stt.Provider] for hosts that own exactly one remote recogniser.
type Provider struct {
	Controller Controller
}

var _ stt.Provider = Provider{}

// StartStream implements stt.Provider.
func (p Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return NewSession(p.Controller, cfg), nil
}

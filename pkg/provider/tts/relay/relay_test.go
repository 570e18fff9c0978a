package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxtable/pkg/provider/tts"
)

type recordingSink struct {
	said   []tts.Utterance
	hushes int
}

func (s *recordingSink) Say(_ context.Context, u tts.Utterance) error {
	s.said = append(s.said, u)
	return nil
}

func (s *recordingSink) Hush() error {
	s.hushes++
	return nil
}

func TestProvider_Speak(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	p := &Provider{Sink: sink, Rate: 1.2}

	if err := p.Speak(context.Background(), tts.Utterance{Text: "  Enter the price ", Language: "en"}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if err := p.Speak(context.Background(), tts.Utterance{Text: "   "}); err != nil {
		t.Fatalf("Speak blank: %v", err)
	}
	if err := p.Speak(context.Background(), tts.Utterance{Text: "slow", Rate: 0.8}); err != nil {
		t.Fatalf("Speak: %v", err)
	}

	if len(sink.said) != 2 {
		t.Fatalf("said %d utterances, want 2", len(sink.said))
	}
	if got := sink.said[0]; got.Text != "Enter the price" || got.Rate != 1.2 || got.Language != "en" {
		t.Errorf("first = %+v", got)
	}
	if got := sink.said[1]; got.Rate != 0.8 {
		t.Errorf("explicit rate overridden: %+v", got)
	}
}

func TestProvider_Cancel(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	p := &Provider{Sink: sink}
	if err := p.Cancel(); err != nil || sink.hushes != 1 {
		t.Errorf("Cancel = %v, hushes = %d", err, sink.hushes)
	}
}

func TestProvider_NoSink(t *testing.T) {
	t.Parallel()
	p := &Provider{}
	if err := p.Speak(context.Background(), tts.Utterance{Text: "x"}); !errors.Is(err, ErrNoSink) {
		t.Errorf("Speak = %v, want ErrNoSink", err)
	}
	if err := p.Cancel(); !errors.Is(err, ErrNoSink) {
		t.Errorf("Cancel = %v, want ErrNoSink", err)
	}
}

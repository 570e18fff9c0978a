package guided

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxtable/internal/observe"
	"github.com/MrWong99/voxtable/pkg/pipeline"
	"github.com/MrWong99/voxtable/pkg/provider/stt"
	"github.com/MrWong99/voxtable/pkg/provider/tts"
)

// ErrRunnerDone is returned by Runner actions after the session has ended.
var ErrRunnerDone = errors.New("guided: session has ended")

// Writer stores one guided value. Implementations pad the table when row is
// past the last row.
type Writer interface {
	WriteCell(ctx context.Context, row int, column, value string) error
}

// WriterFunc adapts a function to [Writer].
type WriterFunc func(ctx context.Context, row int, column, value string) error

// WriteCell implements Writer.
func (f WriterFunc) WriteCell(ctx context.Context, row int, column, value string) error {
	return f(ctx, row, column, value)
}

// Result summarises a finished session.
type Result struct {
	Reason  Reason
	Written int
	Skipped int
}

// RunnerConfig configures a [Runner].
type RunnerConfig struct {
	// Engine is the initial engine, normally from [New].
	Engine Engine

	// Recognizer is an open recognition session. The runner arms and disarms
	// it but does not close it.
	Recognizer stt.SessionHandle

	// Speaker receives instructions to speak.
	Speaker tts.Provider

	// Writer receives every value write.
	Writer Writer

	// Prompt builds the spoken text for a step with an empty instruction.
	// May be nil, in which case such steps are announced by row and column.
	Prompt func(step pipeline.Step) string

	// OnEffect, if set, observes every effect after it has been carried out.
	// It runs on the runner goroutine and must not block.
	OnEffect func(Effect)

	// Metrics records step outcomes. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Runner drives an [Engine] against live collaborators. All engine
// transitions happen on the goroutine running [Runner.Run]; the action
// methods only enqueue events, so step advancement is strictly sequential.
type Runner struct {
	cfg     RunnerConfig
	events  chan Event
	done    chan struct{}
	closeMu sync.Once

	mu     sync.Mutex
	engine Engine
	result Result
}

// NewRunner returns a runner for cfg. Call [Runner.Run] to start it.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Runner{
		cfg:    cfg,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		engine: cfg.Engine,
	}
}

// Engine returns a snapshot of the current engine.
func (r *Runner) Engine() Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine
}

// Done is closed once Run has returned.
func (r *Runner) Done() <-chan struct{} { return r.done }

// StartMic arms recognition for the current step.
func (r *Runner) StartMic(ctx context.Context) error {
	return r.send(ctx, Event{Kind: EventStartMic})
}

// Skip leaves the current step without writing.
func (r *Runner) Skip(ctx context.Context) error {
	return r.send(ctx, Event{Kind: EventSkip})
}

// Confirm submits text as the answer for the current step.
func (r *Runner) Confirm(ctx context.Context, text string) error {
	return r.send(ctx, Event{Kind: EventConfirm, Text: text})
}

// Repeat speaks the current step again.
func (r *Runner) Repeat(ctx context.Context) error {
	return r.send(ctx, Event{Kind: EventRepeat})
}

// Close ends the session from any state.
func (r *Runner) Close(ctx context.Context) error {
	return r.send(ctx, Event{Kind: EventClose})
}

func (r *Runner) send(ctx context.Context, ev Event) error {
	select {
	case <-r.done:
		return ErrRunnerDone
	default:
	}
	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return ErrRunnerDone
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the session and processes events until it finishes or ctx is
// cancelled. Cancellation is treated as a close. Run may be called once.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	defer r.closeMu.Do(func() { close(r.done) })

	r.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	defer r.cfg.Metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	if r.dispatch(ctx, Event{Kind: EventStart}) {
		return r.snapshot(), nil
	}

	partials := r.cfg.Recognizer.Partials()
	finals := r.cfg.Recognizer.Finals()
	recErrs := r.cfg.Recognizer.Errors()

	for {
		var ev Event
		select {
		case <-ctx.Done():
			r.dispatch(context.WithoutCancel(ctx), Event{Kind: EventClose})
			return r.snapshot(), ctx.Err()
		case ev = <-r.events:
		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			ev = Event{Kind: EventInterim, Text: t.Text}
		case t, ok := <-finals:
			if !ok {
				// The recogniser went away; nothing more can be heard.
				ev = Event{Kind: EventClose}
				break
			}
			ev = Event{Kind: EventFinal, Text: t.Text}
		case err, ok := <-recErrs:
			if !ok {
				recErrs = nil
				continue
			}
			ev = Event{Kind: EventRecognitionError, Err: err}
		}
		if r.dispatch(ctx, ev) {
			return r.snapshot(), nil
		}
	}
}

func (r *Runner) snapshot() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// dispatch applies ev and carries out the effects. It reports whether the
// session has finished.
func (r *Runner) dispatch(ctx context.Context, ev Event) bool {
	r.mu.Lock()
	next, effects := r.engine.Apply(ev)
	r.engine = next
	r.mu.Unlock()

	for _, eff := range effects {
		r.execute(ctx, eff)
		if r.cfg.OnEffect != nil {
			r.cfg.OnEffect(eff)
		}
	}
	return next.Finished()
}

func (r *Runner) execute(ctx context.Context, eff Effect) {
	switch eff.Kind {
	case EffectSpeak:
		text := eff.Text
		if text == "" {
			text = r.prompt(eff)
		}
		if err := r.cfg.Speaker.Speak(ctx, tts.Utterance{Text: text, Language: eff.Language}); err != nil {
			slog.Warn("guided: speak failed", "step", eff.Step, "err", err)
		}
	case EffectCancelSpeech:
		if err := r.cfg.Speaker.Cancel(); err != nil {
			slog.Warn("guided: cancel speech failed", "err", err)
		}
	case EffectStartRecognition:
		if err := r.cfg.Recognizer.Start(); err != nil {
			slog.Warn("guided: start recognition failed", "err", err)
			// Feed the failure back so the engine leaves Listening.
			go func() { _ = r.send(ctx, Event{Kind: EventRecognitionError, Err: err}) }()
		}
	case EffectStopRecognition:
		if err := r.cfg.Recognizer.Stop(); err != nil {
			slog.Warn("guided: stop recognition failed", "err", err)
		}
	case EffectWrite:
		// Write failures are logged and never hold the session on a step.
		if err := r.cfg.Writer.WriteCell(ctx, eff.Row, eff.Column, eff.Value); err != nil {
			slog.Error("guided: write failed", "row", eff.Row, "column", eff.Column, "err", err)
		}
		r.cfg.Metrics.RecordGuidedStep(ctx, "written")
		r.mu.Lock()
		r.result.Written++
		r.mu.Unlock()
	case EffectSkipped:
		r.cfg.Metrics.RecordGuidedStep(ctx, "skipped")
		r.mu.Lock()
		r.result.Skipped++
		r.mu.Unlock()
	case EffectFinished:
		r.mu.Lock()
		r.result.Reason = eff.Reason
		r.mu.Unlock()
		slog.Info("guided: session finished", "reason", eff.Reason)
	}
}

func (r *Runner) prompt(eff Effect) string {
	var step pipeline.Step
	if steps := r.Engine().Pipeline.Steps; eff.Step >= 0 && eff.Step < len(steps) {
		step = steps[eff.Step]
	}
	if r.cfg.Prompt != nil {
		if p := r.cfg.Prompt(step); p != "" {
			return p
		}
	}
	return fmt.Sprintf("Row %s, %s", pipeline.RowToDisplay(eff.Row), eff.Column)
}

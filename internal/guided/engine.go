// Package guided implements the guided voice entry session: a walk through a
// pipeline's steps in which each step's instruction is spoken, one utterance
// is recognised, and the result is written to the step's cell.
//
// [Engine] is a pure state machine. [Engine.Apply] takes an [Event] and
// returns the next engine value plus the [Effect]s the caller must carry out
// (speak, write, start or stop recognition). It performs no I/O, so the whole
// session can be exercised by feeding synthetic events. [Runner] binds an
// engine to a live recogniser, a speech sink and a cell writer.
package guided

import (
	"github.com/MrWong99/voxtable/pkg/pipeline"
)

// State is the engine's position in the session lifecycle.
type State int

const (
	// StateIdle is the state before Start.
	StateIdle State = iota
	// StateAwaitingInput has the current step displayed and spoken, mic idle.
	StateAwaitingInput
	// StateListening is capturing one utterance.
	StateListening
	// StateFinished is terminal.
	StateFinished
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInput:
		return "awaiting_input"
	case StateListening:
		return "listening"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// EventKind identifies an input to the engine.
type EventKind int

const (
	// EventStart begins the session by speaking the first step.
	EventStart EventKind = iota
	// EventStartMic is the user's "start mic" action.
	EventStartMic
	// EventInterim carries a partial transcript, for display only.
	EventInterim
	// EventFinal carries the recogniser's committed transcript.
	EventFinal
	// EventRecognitionError reports a recogniser failure.
	EventRecognitionError
	// EventSkip is the user's "skip" action.
	EventSkip
	// EventConfirm submits Text as if it had been recognised.
	EventConfirm
	// EventRepeat speaks the current step again.
	EventRepeat
	// EventClose tears the session down from any state.
	EventClose
)

// String implements fmt.Stringer.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventStartMic:
		return "start_mic"
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventRecognitionError:
		return "recognition_error"
	case EventSkip:
		return "skip"
	case EventConfirm:
		return "confirm"
	case EventRepeat:
		return "repeat"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one input to [Engine.Apply].
type Event struct {
	Kind EventKind
	// Text is the transcript for EventInterim, EventFinal and EventConfirm.
	Text string
	// Err is the failure for EventRecognitionError.
	Err error
}

// EffectKind identifies an action the engine asks its driver to perform.
type EffectKind int

const (
	// EffectSpeak speaks Text in Language. Fire and forget.
	EffectSpeak EffectKind = iota
	// EffectCancelSpeech stops any utterance in progress.
	EffectCancelSpeech
	// EffectStartRecognition arms the recogniser for one utterance.
	EffectStartRecognition
	// EffectStopRecognition disarms the recogniser.
	EffectStopRecognition
	// EffectDisplay shows Text as the live transcript.
	EffectDisplay
	// EffectWrite writes Value to cell (Row, Column).
	EffectWrite
	// EffectSkipped reports that the step at Step was left without a write.
	EffectSkipped
	// EffectStep reports that Step is now the current step.
	EffectStep
	// EffectRecognitionFailed reports Text as a recogniser error message.
	EffectRecognitionFailed
	// EffectFinished ends the session with Reason.
	EffectFinished
)

// String implements fmt.Stringer.
func (k EffectKind) String() string {
	switch k {
	case EffectSpeak:
		return "speak"
	case EffectCancelSpeech:
		return "cancel_speech"
	case EffectStartRecognition:
		return "start_recognition"
	case EffectStopRecognition:
		return "stop_recognition"
	case EffectDisplay:
		return "display"
	case EffectWrite:
		return "write"
	case EffectSkipped:
		return "skipped"
	case EffectStep:
		return "step"
	case EffectRecognitionFailed:
		return "recognition_failed"
	case EffectFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Reason explains why a session finished.
type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonStopped   Reason = "stopped"
	ReasonClosed    Reason = "closed"
)

// Effect is one action for the driver. Only the fields relevant to Kind are
// set.
type Effect struct {
	Kind     EffectKind
	Text     string
	Language string
	Step     int
	Row      int
	Column   string
	Value    string
	Reason   Reason
}

// Engine is the guided session state. It is a value type: Apply returns a new
// Engine and never modifies the receiver or its pipeline.
type Engine struct {
	Pipeline pipeline.Pipeline
	Cursor   int
	State    State
	Language string
	Keywords KeywordSet
}

// New returns an idle engine over p. kw supplies the command words; the set
// for lang is resolved once here.
func New(p pipeline.Pipeline, lang string, kw Keywords) Engine {
	return Engine{
		Pipeline: p.Clone(),
		Language: lang,
		Keywords: kw.For(lang),
	}
}

// Current returns the step under the cursor.
func (e Engine) Current() (pipeline.Step, bool) {
	if e.Cursor < 0 || e.Cursor >= len(e.Pipeline.Steps) {
		return pipeline.Step{}, false
	}
	return e.Pipeline.Steps[e.Cursor], true
}

// Finished reports whether the session has ended.
func (e Engine) Finished() bool { return e.State == StateFinished }

// Apply is the transition function. Events that make no sense in the current
// state return the engine unchanged and no effects.
func (e Engine) Apply(ev Event) (Engine, []Effect) {
	if e.State == StateFinished {
		return e, nil
	}

	switch ev.Kind {
	case EventStart:
		if e.State != StateIdle {
			return e, nil
		}
		if len(e.Pipeline.Steps) == 0 {
			return e.finish(ReasonCompleted, nil)
		}
		e.Cursor = 0
		return e.enterStep(nil)

	case EventRepeat:
		if e.State != StateAwaitingInput {
			return e, nil
		}
		return e, []Effect{e.speakCurrent()}

	case EventStartMic:
		if e.State != StateAwaitingInput {
			return e, nil
		}
		e.State = StateListening
		return e, []Effect{{Kind: EffectCancelSpeech}, {Kind: EffectStartRecognition}}

	case EventInterim:
		if e.State != StateListening {
			return e, nil
		}
		return e, []Effect{{Kind: EffectDisplay, Text: ev.Text}}

	case EventFinal:
		if e.State != StateListening {
			return e, nil
		}
		// Recognition is single-shot: a final ends the listening cycle.
		e.State = StateAwaitingInput
		return e.handleUtterance(ev.Text, nil)

	case EventRecognitionError:
		if e.State != StateListening {
			return e, nil
		}
		e.State = StateAwaitingInput
		msg := "recognition failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		return e, []Effect{{Kind: EffectRecognitionFailed, Text: msg}}

	case EventSkip:
		if e.State != StateAwaitingInput && e.State != StateListening {
			return e, nil
		}
		effects := e.stopListening(nil)
		e.State = StateAwaitingInput
		return e.skip(effects)

	case EventConfirm:
		if e.State != StateAwaitingInput && e.State != StateListening {
			return e, nil
		}
		if cmd, _ := Classify(ev.Text, e.Keywords); cmd == CommandNone {
			return e, nil
		}
		effects := e.stopListening(nil)
		e.State = StateAwaitingInput
		return e.handleUtterance(ev.Text, effects)

	case EventClose:
		effects := e.stopListening(nil)
		if e.State != StateIdle {
			effects = append(effects, Effect{Kind: EffectCancelSpeech})
		}
		return e.finish(ReasonClosed, effects)
	}
	return e, nil
}

// handleUtterance classifies text against the current step. The engine must
// already be in StateAwaitingInput.
func (e Engine) handleUtterance(text string, effects []Effect) (Engine, []Effect) {
	cmd, trimmed := Classify(text, e.Keywords)
	switch cmd {
	case CommandNone:
		return e, effects
	case CommandStop:
		return e.finish(ReasonStopped, effects)
	case CommandSkip:
		return e.skip(effects)
	}

	step, ok := e.Current()
	if !ok {
		return e.finish(ReasonCompleted, effects)
	}
	effects = append(effects, Effect{
		Kind:   EffectWrite,
		Step:   e.Cursor,
		Row:    step.TargetRowIndex,
		Column: step.TargetColumnID,
		Value:  Normalize(trimmed, step.ExpectedType),
	})
	return e.advance(effects)
}

func (e Engine) skip(effects []Effect) (Engine, []Effect) {
	if step, ok := e.Current(); ok {
		effects = append(effects, Effect{
			Kind:   EffectSkipped,
			Step:   e.Cursor,
			Row:    step.TargetRowIndex,
			Column: step.TargetColumnID,
		})
	}
	return e.advance(effects)
}

// advance moves to the next step or finishes when the cursor is on the last.
func (e Engine) advance(effects []Effect) (Engine, []Effect) {
	if e.Cursor+1 >= len(e.Pipeline.Steps) {
		return e.finish(ReasonCompleted, effects)
	}
	e.Cursor++
	return e.enterStep(effects)
}

func (e Engine) enterStep(effects []Effect) (Engine, []Effect) {
	e.State = StateAwaitingInput
	return e, append(effects, Effect{Kind: EffectStep, Step: e.Cursor}, e.speakCurrent())
}

func (e Engine) speakCurrent() Effect {
	step, _ := e.Current()
	return Effect{
		Kind:     EffectSpeak,
		Step:     e.Cursor,
		Text:     step.Instruction,
		Language: e.Language,
		Row:      step.TargetRowIndex,
		Column:   step.TargetColumnID,
	}
}

func (e Engine) stopListening(effects []Effect) []Effect {
	if e.State == StateListening {
		effects = append(effects, Effect{Kind: EffectStopRecognition})
	}
	return effects
}

func (e Engine) finish(reason Reason, effects []Effect) (Engine, []Effect) {
	e.State = StateFinished
	return e, append(effects, Effect{Kind: EffectFinished, Reason: reason})
}

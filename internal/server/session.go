package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxtable/internal/guided"
	"github.com/MrWong99/voxtable/pkg/pipeline"
	"github.com/MrWong99/voxtable/pkg/provider/stt"
	sttrelay "github.com/MrWong99/voxtable/pkg/provider/stt/relay"
	"github.com/MrWong99/voxtable/pkg/provider/tts"
	ttsrelay "github.com/MrWong99/voxtable/pkg/provider/tts/relay"
	"github.com/MrWong99/voxtable/pkg/table"
)

// Guided session wire protocol. The browser runs recognition and speech
// synthesis; the server runs the session.
const (
	// Client to server.
	msgStartMic = "start_mic"
	msgInterim  = "interim"
	msgFinal    = "final"
	msgError    = "error"
	msgSkip     = "skip"
	msgConfirm  = "confirm"
	msgRepeat   = "repeat"
	msgClose    = "close"

	// Server to client.
	msgSpeak             = "speak"
	msgCancelSpeech      = "cancel_speech"
	msgStartRecognition  = "start_recognition"
	msgStopRecognition   = "stop_recognition"
	msgTranscript        = "transcript"
	msgStep              = "step"
	msgWrite             = "write"
	msgSkipped           = "skipped"
	msgRecognitionFailed = "recognition_failed"
	msgFinished          = "finished"
)

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
)

var (
	// errOutboxClosed is returned when a message is sent after the socket closed.
	errOutboxClosed = errors.New("server: session socket closed")

	// errOutboxFull is returned when the client has stopped reading and
	// outboxSize messages are already queued.
	errOutboxFull = errors.New("server: session client is not reading")
)

// clientMessage is one message from the browser.
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// serverMessage is one message to the browser. Only the fields relevant to
// Type are set.
type serverMessage struct {
	Type         string                `json:"type"`
	Text         string                `json:"text,omitempty"`
	Language     string                `json:"language,omitempty"`
	Rate         float64               `json:"rate,omitempty"`
	Step         int                   `json:"step"`
	Total        int                   `json:"total,omitempty"`
	Row          int                   `json:"row"`
	Column       string                `json:"column,omitempty"`
	ColumnLabel  string                `json:"columnLabel,omitempty"`
	ExpectedType pipeline.ExpectedType `json:"expectedType,omitempty"`
	Value        string                `json:"value,omitempty"`
	Reason       guided.Reason         `json:"reason,omitempty"`
	Written      int                   `json:"written,omitempty"`
	Skipped      int                   `json:"skipped,omitempty"`
}

// outbox serialises writes to the socket on one goroutine. send never
// blocks: it runs on the guided runner goroutine. A full queue means the
// client stopped reading, and the session is ended through fail rather than
// losing messages.
type outbox struct {
	conn     *websocket.Conn
	ch       chan serverMessage
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
	overflow sync.Once
	fail     func(error)
}

func newOutbox(conn *websocket.Conn, fail func(error)) *outbox {
	return &outbox{
		conn: conn,
		ch:   make(chan serverMessage, outboxSize),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		fail: fail,
	}
}

func (o *outbox) send(m serverMessage) error {
	select {
	case <-o.quit:
		return errOutboxClosed
	default:
	}
	select {
	case o.ch <- m:
		return nil
	default:
	}
	o.overflow.Do(func() {
		slog.Warn("server: session outbox full, ending session", "type", m.Type)
		o.fail(errOutboxFull)
	})
	return errOutboxFull
}

// Say implements the speech relay sink.
func (o *outbox) Say(_ context.Context, u tts.Utterance) error {
	return o.send(serverMessage{Type: msgSpeak, Text: u.Text, Language: u.Language, Rate: u.Rate})
}

// Hush implements the speech relay sink.
func (o *outbox) Hush() error {
	return o.send(serverMessage{Type: msgCancelSpeech})
}

func (o *outbox) run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case m := <-o.ch:
			if !o.write(ctx, m) {
				return
			}
		case <-o.quit:
			for {
				select {
				case m := <-o.ch:
					if !o.write(ctx, m) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (o *outbox) write(ctx context.Context, m serverMessage) bool {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, o.conn, m); err != nil {
		o.fail(err)
		return false
	}
	return true
}

// close stops accepting messages and waits until the queued ones are written.
func (o *outbox) close() {
	o.once.Do(func() { close(o.quit) })
	<-o.done
}

// handleSession upgrades to a WebSocket and runs one guided session over the
// table's stored plan. While it runs, edits that add or remove rows of the
// table are refused.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	lang := s.lang(r.URL.Query().Get("language"))

	t, err := s.tables.acquire(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer s.tables.release(id)
	if t.WorkflowPlan == nil {
		s.writeError(w, r, badRequest("table %q has no workflow plan", id))
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		slog.Warn("server: websocket upgrade failed", "table_id", id, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &guidedSession{
		server: s,
		table:  t,
		plan:   t.WorkflowPlan.Clone(),
		lang:   lang,
	}
	res, err := sess.run(ctx, conn, cancel)
	log := slog.With("table_id", id, "reason", res.Reason, "written", res.Written, "skipped", res.Skipped)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("server: guided session ended with error", "err", err)
	} else {
		log.Info("server: guided session ended")
	}
}

// guidedSession binds one socket to one [guided.Runner].
type guidedSession struct {
	server *Server
	table  *table.Table
	plan   pipeline.Pipeline
	lang   string

	// Counters for the finished message. Only touched from OnEffect, which
	// runs on the runner goroutine.
	written int
	skipped int
}

func (gs *guidedSession) run(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) (guided.Result, error) {
	out := newOutbox(conn, func(err error) {
		slog.Debug("server: session write failed", "err", err)
		cancel()
	})
	go out.run(ctx)
	defer out.close()

	rec := sttrelay.NewSession(sttrelay.ControllerFuncs{
		ArmFunc:    func() error { return out.send(serverMessage{Type: msgStartRecognition}) },
		DisarmFunc: func() error { return out.send(serverMessage{Type: msgStopRecognition}) },
	}, stt.StreamConfig{Language: gs.lang, Interim: true})
	defer rec.Close()

	runner := guided.NewRunner(guided.RunnerConfig{
		Engine:     guided.New(gs.plan, gs.lang, *gs.server.keywords.Load()),
		Recognizer: rec,
		Speaker:    &ttsrelay.Provider{Sink: out},
		Writer:     guided.WriterFunc(gs.writeCell),
		Prompt:     gs.prompt,
		OnEffect: func(eff guided.Effect) {
			if m, ok := gs.message(eff); ok {
				_ = out.send(m)
			}
		},
		Metrics: gs.server.metrics,
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		gs.readLoop(ctx, conn, runner, rec)
	}()

	res, err := runner.Run(ctx)
	out.close()
	// Unblock the reader before waiting for it.
	conn.Close(websocket.StatusNormalClosure, string(res.Reason))
	wg.Wait()
	return res, err
}

func (gs *guidedSession) readLoop(ctx context.Context, conn *websocket.Conn, runner *guided.Runner, rec *sttrelay.Session) {
	for {
		var m clientMessage
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.Debug("server: session read failed", "err", err)
			}
			return
		}
		var err error
		switch m.Type {
		case msgStartMic:
			err = runner.StartMic(ctx)
		case msgInterim:
			err = rec.Partial(m.Text)
		case msgFinal:
			err = rec.Final(m.Text)
		case msgError:
			text := m.Text
			if text == "" {
				text = "recognition failed"
			}
			err = rec.Fail(errors.New(text))
		case msgSkip:
			err = runner.Skip(ctx)
		case msgConfirm:
			err = runner.Confirm(ctx, m.Text)
		case msgRepeat:
			err = runner.Repeat(ctx)
		case msgClose:
			err = runner.Close(ctx)
		default:
			slog.Debug("server: unknown session message", "type", m.Type)
			continue
		}
		if errors.Is(err, guided.ErrRunnerDone) || errors.Is(err, stt.ErrSessionClosed) {
			return
		}
		if err != nil {
			slog.Debug("server: session message failed", "type", m.Type, "err", err)
		}
	}
}

// writeCell stores one guided value. Rows past the end are padded.
func (gs *guidedSession) writeCell(ctx context.Context, row int, column, value string) error {
	_, err := gs.server.tables.update(ctx, gs.table.ID, func(t *table.Table) error {
		return t.SetCell(row, column, value)
	})
	return err
}

// prompt announces a step that has no instruction by row and column label.
func (gs *guidedSession) prompt(step pipeline.Step) string {
	return fmt.Sprintf("Row %s, %s", pipeline.RowToDisplay(step.TargetRowIndex), gs.table.ColumnLabel(step.TargetColumnID))
}

// message translates the effects the browser needs to render. Speech and
// recognition control go through the relays instead.
func (gs *guidedSession) message(eff guided.Effect) (serverMessage, bool) {
	switch eff.Kind {
	case guided.EffectDisplay:
		return serverMessage{Type: msgTranscript, Text: eff.Text}, true
	case guided.EffectStep:
		m := serverMessage{Type: msgStep, Step: eff.Step, Total: gs.plan.Len()}
		if eff.Step >= 0 && eff.Step < gs.plan.Len() {
			st := gs.plan.Steps[eff.Step]
			m.Text = st.Instruction
			m.Row = st.TargetRowIndex
			m.Column = st.TargetColumnID
			m.ColumnLabel = gs.table.ColumnLabel(st.TargetColumnID)
			m.ExpectedType = st.ExpectedType
		}
		return m, true
	case guided.EffectWrite:
		gs.written++
		return serverMessage{Type: msgWrite, Step: eff.Step, Row: eff.Row, Column: eff.Column, Value: eff.Value}, true
	case guided.EffectSkipped:
		gs.skipped++
		return serverMessage{Type: msgSkipped, Step: eff.Step, Row: eff.Row, Column: eff.Column}, true
	case guided.EffectRecognitionFailed:
		return serverMessage{Type: msgRecognitionFailed, Text: eff.Text}, true
	case guided.EffectFinished:
		return serverMessage{Type: msgFinished, Reason: eff.Reason, Written: gs.written, Skipped: gs.skipped}, true
	}
	return serverMessage{}, false
}

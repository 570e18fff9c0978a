// Package server exposes voxtable over HTTP: a JSON API for tables, workflow
// plans and voice edits, a WebSocket endpoint that hosts guided voice entry
// sessions, and the health and metrics probes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/MrWong99/voxtable/internal/capability"
	"github.com/MrWong99/voxtable/internal/guided"
	"github.com/MrWong99/voxtable/internal/health"
	"github.com/MrWong99/voxtable/internal/observe"
	"github.com/MrWong99/voxtable/internal/synth"
	"github.com/MrWong99/voxtable/internal/tablestore"
	"github.com/MrWong99/voxtable/internal/vision"
	"github.com/MrWong99/voxtable/internal/voicecmd"
	"github.com/MrWong99/voxtable/pkg/pipeline"
	"github.com/MrWong99/voxtable/pkg/table"
)

// Default request body limits.
const (
	defaultMaxBody  = 1 << 20
	defaultMaxImage = 20 << 20
)

// errCapabilityOff is returned when no model backend is configured.
var errCapabilityOff = errors.New("server: AI capability is not configured")

// Config holds the collaborators of a [Server]. Store and Saver are required;
// a nil capability disables the routes that need it.
type Config struct {
	Store tablestore.Store
	Saver *tablestore.AsyncSaver

	Suggester   synth.Suggester
	Interpreter *voicecmd.Interpreter
	Extractor   vision.Extractor

	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// MetricsHandler serves /metrics. Optional.
	MetricsHandler http.Handler

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Keywords is the initial guided keyword table. Defaults to
	// [guided.DefaultKeywords]. Replace it at runtime with SetKeywords.
	Keywords guided.Keywords

	// DefaultLanguage is used when a request names none. Default "en".
	DefaultLanguage string

	// OriginPatterns lists extra hosts allowed to open session sockets.
	// Same-origin requests are always allowed.
	OriginPatterns []string

	// MaxBodyBytes limits JSON and CSV bodies. MaxImageBytes limits scans.
	MaxBodyBytes  int64
	MaxImageBytes int64
}

// Server routes HTTP requests to the table workspace and the capabilities.
type Server struct {
	cfg     Config
	tables  *workspace
	metrics *observe.Metrics

	keywords atomic.Pointer[guided.Keywords]
	language atomic.Pointer[string]
}

// New creates a [Server] from cfg.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Keywords == nil {
		cfg.Keywords = guided.DefaultKeywords()
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "en"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = defaultMaxImage
	}
	s := &Server{
		cfg:     cfg,
		tables:  newWorkspace(cfg.Store, cfg.Saver),
		metrics: cfg.Metrics,
	}
	s.SetKeywords(cfg.Keywords)
	s.SetDefaultLanguage(cfg.DefaultLanguage)
	return s
}

// SetKeywords replaces the keyword table used by sessions started from now
// on. Running sessions keep the words they started with.
func (s *Server) SetKeywords(kw guided.Keywords) {
	s.keywords.Store(&kw)
}

// SetDefaultLanguage replaces the language used when a request names none.
func (s *Server) SetDefaultLanguage(lang string) {
	s.language.Store(&lang)
}

func (s *Server) lang(requested string) string {
	if requested != "" {
		return requested
	}
	return *s.language.Load()
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/tables", s.handleList)
	mux.HandleFunc("POST /api/tables", s.handleCreate)
	mux.HandleFunc("POST /api/tables/import", s.handleImport)
	mux.HandleFunc("POST /api/tables/scan", s.handleScan)
	mux.HandleFunc("GET /api/tables/{id}", s.handleGet)
	mux.HandleFunc("PUT /api/tables/{id}", s.handleReplace)
	mux.HandleFunc("DELETE /api/tables/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/tables/{id}/voice", s.handleVoice)
	mux.HandleFunc("GET /api/tables/{id}/pipeline", s.handleGetPipeline)
	mux.HandleFunc("POST /api/tables/{id}/pipeline/suggest", s.handleSuggest)
	mux.HandleFunc("POST /api/tables/{id}/pipeline/edit", s.handleEditPipeline)
	mux.HandleFunc("GET /api/tables/{id}/session", s.handleSession)

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}
	return observe.Middleware(s.metrics)(mux)
}

// Flush waits for every pending table save.
func (s *Server) Flush(ctx context.Context) error {
	return s.cfg.Saver.Flush(ctx)
}

// apiError is the JSON error body.
type apiError struct {
	Error      string `json:"error"`
	Capability string `json:"capability,omitempty"`
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var syntaxErr *json.SyntaxError
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, tablestore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrOutOfRange), errors.Is(err, table.ErrOutOfRange):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errCapabilityOff):
		return http.StatusNotImplemented
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &syntaxErr), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case capability.IsRemote(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// errBadRequest marks client input errors.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := apiError{Error: err.Error()}
	if re, ok := capability.AsRemote(err); ok {
		body.Error = re.Message
		body.Capability = re.Capability
	}
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("server: request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Debug("server: request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: encode response", "err", err)
	}
}

// decodeJSON reads a single JSON object from the request body.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			// An empty body leaves v at its zero value.
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return badRequest("decode body: %v", err)
	}
	return nil
}

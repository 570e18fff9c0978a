// Package app wires all voxtable subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxtable/internal/capability"
	"github.com/MrWong99/voxtable/internal/config"
	"github.com/MrWong99/voxtable/internal/health"
	"github.com/MrWong99/voxtable/internal/observe"
	"github.com/MrWong99/voxtable/internal/server"
	"github.com/MrWong99/voxtable/internal/synth"
	"github.com/MrWong99/voxtable/internal/tablestore"
	"github.com/MrWong99/voxtable/internal/vision"
	"github.com/MrWong99/voxtable/internal/voicecmd"
)

// Timeouts for the HTTP server.
const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
	drainTimeout      = 15 * time.Second
)

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	metrics        *observe.Metrics
	store          tablestore.Store
	saver          *tablestore.AsyncSaver
	checkers       []health.Checker
	metricsHandler http.Handler
	logLevel       *slog.LevelVar
	server         *server.Server
	httpSrv        *http.Server

	mu   sync.Mutex
	addr net.Addr

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a table store instead of creating one from config.
func WithStore(s tablestore.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves /metrics with h instead of the Prometheus
// default registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets [App.Reload] adjust lv when server.log_level changes.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]; a nil LLM disables the AI capabilities while manual
// editing and guided sessions keep working.
//
// New connects to the configured store synchronously so that a bad DSN fails
// startup instead of the first request.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	// ── 1. Table store ───────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Background saver ──────────────────────────────────────────────
	a.saver = tablestore.NewAsyncSaver(tablestore.SaverConfig{Store: a.store, Metrics: a.metrics})

	// ── 3. Capabilities + HTTP surface ───────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured table store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	driver := a.cfg.Storage.Driver
	var store tablestore.Store
	switch driver {
	case config.StorageSQLite:
		s, err := tablestore.OpenSQLite(ctx, a.cfg.Storage.DSN)
		if err != nil {
			return err
		}
		store = s
		a.closers = append(a.closers, s.Close)
		a.checkers = append(a.checkers, health.Ping("store", s))

	case config.StoragePostgres:
		pool, err := openPool(ctx, a.cfg.Storage.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		pg := tablestore.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		store = pg
		a.checkers = append(a.checkers, health.Ping("store", pool))

	default:
		driver = config.StorageMemory
		store = tablestore.NewMemStore()
		slog.Warn("app: tables are kept in memory and lost on restart")
	}

	a.store = tablestore.Instrumented(store, string(driver), a.metrics)
	slog.Info("app: table store ready", "driver", driver)
	return nil
}

// openPool connects to PostgreSQL and verifies the connection.
func openPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// initServer builds the capability adapters and the HTTP server.
func (a *App) initServer() {
	scfg := server.Config{
		Store:           a.store,
		Saver:           a.saver,
		Metrics:         a.metrics,
		MetricsHandler:  a.metricsHandler,
		Keywords:        config.Keywords(a.cfg),
		DefaultLanguage: a.cfg.Session.DefaultLanguage,
		OriginPatterns:  a.cfg.Server.AllowedOrigins,
	}

	copts := []capability.Option{capability.WithMetrics(a.metrics)}
	if p := a.providers.LLM; p != nil {
		c := capability.NewClient(p, a.providers.LLMName, copts...)
		scfg.Suggester = synth.NewLLMSuggester(c)
		scfg.Interpreter = voicecmd.New(voicecmd.NewLLMParser(c), voicecmd.WithMetrics(a.metrics))
		a.checkers = append(a.checkers, available("llm", p))
	}

	vp, vname := a.providers.Vision, a.providers.VisionName
	if vp == nil {
		vp, vname = a.providers.LLM, a.providers.LLMName
	} else {
		a.checkers = append(a.checkers, available("vision", vp))
	}
	if vp != nil {
		if !vp.Capabilities().SupportsVision {
			slog.Warn("app: vision provider cannot read images; photo scans will fail", "provider", vname)
		}
		scfg.Extractor = vision.NewLLMExtractor(capability.NewClient(vp, vname, copts...))
	}

	scfg.Health = health.New(a.checkers...)
	a.server = server.New(scfg)
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
}

// available returns an optional readiness check for providers that track
// backend health, such as a fallback group whose breakers may all be open.
func available(name string, p any) health.Checker {
	return health.Checker{
		Name:     name,
		Optional: true,
		Check: func(context.Context) error {
			if a, ok := p.(interface{ Available() bool }); ok && !a.Available() {
				return errors.New("every backend has an open circuit breaker")
			}
			return nil
		},
	}
}

// Handler returns the application's HTTP handler.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Addr returns the bound listen address once Run is serving, else nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background saver and serves HTTP until ctx is cancelled.
// Open requests get up to 15 seconds to finish. Run returns ctx.Err() after
// a clean stop.
func (a *App) Run(ctx context.Context) error {
	// The saver outlives ctx so that Shutdown can drain it.
	a.saver.Start(context.WithoutCancel(ctx))

	ln, err := net.Listen("tcp", a.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.httpSrv.Addr, err)
	}
	a.mu.Lock()
	a.addr = ln.Addr()
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
		defer cancel()
		return a.httpSrv.Shutdown(sctx)
	})

	slog.Info("app: serving", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
	if err := g.Wait(); err != nil {
		return fmt.Errorf("app: serve: %w", err)
	}
	return ctx.Err()
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable part of next. Guided sessions that are
// already running keep their keywords.
func (a *App) Reload(prev, next *config.Config) {
	d := config.Diff(prev, next)
	if len(d.RestartRequired) > 0 {
		slog.Warn("app: config changes need a restart to apply", "settings", d.RestartRequired)
	}
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(SlogLevel(d.NewLogLevel))
	}
	if d.KeywordsChanged {
		a.server.SetKeywords(config.Keywords(next))
	}
	if d.DefaultLanguageChanged {
		a.server.SetDefaultLanguage(d.NewDefaultLanguage)
	}
	slog.Info("app: config reloaded",
		"log_level", d.NewLogLevel,
		"keyword_languages", d.ChangedLanguages,
		"default_language", d.NewDefaultLanguage,
	)
}

// SlogLevel converts a config log level to its slog equivalent.
func SlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, writes every pending table save and closes
// the store. It respects the context deadline: if ctx expires before the
// pending saves are written, the store stays open for them and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("app: http shutdown", "err", err)
		}

		done := make(chan struct{})
		go func() {
			a.saver.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("app: shutdown deadline exceeded while saving tables")
			shutdownErr = ctx.Err()
			return
		}

		a.closeAll()
		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// closeAll runs the closers in order.
func (a *App) closeAll() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("app: closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

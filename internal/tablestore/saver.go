package tablestore

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxtable/internal/observe"
	"github.com/MrWong99/voxtable/pkg/table"
)

// defaultSaveTimeout bounds one background save.
const defaultSaveTimeout = 10 * time.Second

// SaverConfig configures an [AsyncSaver].
type SaverConfig struct {
	// Store receives the saves.
	Store Store

	// Timeout bounds each save. Defaults to 10 seconds if zero.
	Timeout time.Duration

	// Metrics counts failed saves. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// AsyncSaver persists tables in the background. Enqueue never blocks on the
// store: it records the latest state per table id and wakes the worker. When
// several edits to one table arrive before the worker runs, only the newest
// state is written, which still includes every edit. A failed save is logged
// and counted; the next edit of that table triggers another save.
//
// All methods are safe for concurrent use.
type AsyncSaver struct {
	store   Store
	timeout time.Duration
	metrics *observe.Metrics

	mu      sync.Mutex
	pending map[string]*table.Table
	order   []string
	busy    bool
	idle    *sync.Cond

	started  atomic.Bool
	wake     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewAsyncSaver creates a saver. Call [AsyncSaver.Start] to run the worker.
func NewAsyncSaver(cfg SaverConfig) *AsyncSaver {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSaveTimeout
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &AsyncSaver{
		store:   cfg.Store,
		timeout: timeout,
		metrics: metrics,
		pending: make(map[string]*table.Table),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Start runs the worker in a background goroutine until [AsyncSaver.Stop] is
// called or ctx is cancelled. Pending saves are written before it exits.
func (s *AsyncSaver) Start(ctx context.Context) {
	if s.started.Swap(true) {
		return
	}
	go s.loop(ctx)
}

// Stop halts the worker after it has written everything pending and waits for
// it to exit. Safe to call multiple times.
func (s *AsyncSaver) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	if s.started.Load() {
		<-s.stopped
	}
}

// Enqueue schedules a save of a snapshot of t.
func (s *AsyncSaver) Enqueue(t *table.Table) {
	if t == nil {
		return
	}
	snap := t.Clone()
	s.mu.Lock()
	if _, ok := s.pending[snap.ID]; !ok {
		s.order = append(s.order, snap.ID)
	}
	s.pending[snap.ID] = snap
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Forget drops any pending save of the table with id. A save already in
// flight is not interrupted.
func (s *AsyncSaver) Forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return
	}
	delete(s.pending, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	s.idle.Broadcast()
}

// Flush blocks until nothing is pending or in flight, or ctx is done.
func (s *AsyncSaver) Flush(ctx context.Context) error {
	flushed := make(chan struct{})
	go func() {
		s.mu.Lock()
		for len(s.order) > 0 || s.busy {
			s.idle.Wait()
		}
		s.mu.Unlock()
		close(flushed)
	}()
	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSaver) loop(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			s.drain(context.WithoutCancel(ctx))
			return
		case <-s.done:
			s.drain(context.WithoutCancel(ctx))
			return
		case <-s.wake:
			s.drain(ctx)
		}
	}
}

// drain writes pending tables in arrival order until the queue is empty.
func (s *AsyncSaver) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		if len(s.order) == 0 {
			s.busy = false
			s.idle.Broadcast()
			s.mu.Unlock()
			return
		}
		id := s.order[0]
		s.order = s.order[1:]
		t := s.pending[id]
		delete(s.pending, id)
		s.busy = true
		s.mu.Unlock()

		s.save(ctx, t)
	}
}

func (s *AsyncSaver) save(ctx context.Context, t *table.Table) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.store.Save(ctx, t); err != nil {
		s.metrics.SaveErrors.Add(ctx, 1)
		slog.Error("tablestore: background save failed", "table_id", t.ID, "err", err)
	}
}

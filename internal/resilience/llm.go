package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/voxtable/internal/observe"
	"github.com/MrWong99/voxtable/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several model
// backends. Requests carrying images skip backends that cannot read them
// without counting that against their breaker.
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend. A nil m uses [observe.DefaultMetrics].
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, m *observe.Metrics) *LLMFallback {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	isFailure := cfg.CircuitBreaker.IsFailure
	if isFailure == nil {
		isFailure = countsAsFailure
	}
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		return !errors.Is(err, llm.ErrVisionUnsupported) && isFailure(err)
	}
	return &LLMFallback{
		group:   NewFallbackGroup(llm.Provider(named{primary, primaryName}), primaryName, cfg),
		metrics: m,
	}
}

// named remembers the configured name of a backend for metrics.
type named struct {
	llm.Provider
	name string
}

// AddFallback registers a secondary backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, named{p, name})
}

// Status reports each backend's breaker state.
func (f *LLMFallback) Status() []EntryStatus { return f.group.Status() }

// Available reports whether any backend can currently be tried.
func (f *LLMFallback) Available() bool { return f.group.Available() }

// Complete sends req to the first healthy backend that can serve it.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	vision := req.HasImages()
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		name := p.(named).name
		if vision && !p.Capabilities().SupportsVision {
			return nil, llm.ErrVisionUnsupported
		}
		resp, err := p.Complete(ctx, req)
		if err != nil {
			f.metrics.RecordProviderRequest(ctx, name, "llm", "error")
			f.metrics.RecordProviderError(ctx, name, "llm")
			return nil, err
		}
		f.metrics.RecordProviderRequest(ctx, name, "llm", "ok")
		return resp, nil
	})
}

// Capabilities returns the primary's capabilities, with SupportsVision set
// when any backend can read images.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	caps := f.group.Primary().Capabilities()
	for _, e := range f.group.snapshot() {
		if e.value.Capabilities().SupportsVision {
			caps.SupportsVision = true
			break
		}
	}
	return caps
}

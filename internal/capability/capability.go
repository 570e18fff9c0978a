// Package capability wraps the remote AI calls voxtable depends on (vision,
// pipeline suggestion, voice command parsing) behind one error type and one
// request helper.
//
// Every failure of a capability call, whether transport, empty content or
// undecodable output, surfaces as a [*RemoteError] carrying a message fit to
// show the user. Callers never retry; a new request supersedes interest in
// the old one.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voxtable/internal/observe"
	"github.com/MrWong99/voxtable/pkg/provider/llm"
)

// Capability names used for errors, metrics and spans.
const (
	Vision  = "vision"
	Suggest = "suggest"
	Voice   = "voice"
)

// RemoteError reports a failed capability call.
type RemoteError struct {
	// Capability names the call that failed (see the package constants).
	Capability string

	// Message is a human-readable description suitable for display.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *RemoteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capability %s: %s: %v", e.Capability, e.Message, e.Err)
	}
	return fmt.Sprintf("capability %s: %s", e.Capability, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RemoteError) Unwrap() error { return e.Err }

// Remote returns a RemoteError for capability with the given message and cause.
func Remote(capability, message string, err error) *RemoteError {
	return &RemoteError{Capability: capability, Message: message, Err: err}
}

// IsRemote reports whether err is or wraps a *RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}

// AsRemote returns the *RemoteError inside err, if any.
func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	ok := errors.As(err, &re)
	return re, ok
}

// Client issues capability requests against an LLM provider.
type Client struct {
	provider     llm.Provider
	providerName string
	metrics      *observe.Metrics
	timeout      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records request counts and latency on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTimeout bounds every request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient returns a Client for p. providerName labels metrics.
func NewClient(p llm.Provider, providerName string, opts ...Option) *Client {
	c := &Client{provider: p, providerName: providerName}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Provider returns the underlying LLM provider.
func (c *Client) Provider() llm.Provider { return c.provider }

// CompleteJSON sends req, strips any markdown code fence from the reply and
// decodes it into out. Any failure is returned as a *RemoteError naming
// capability.
func (c *Client) CompleteJSON(ctx context.Context, capability string, req llm.CompletionRequest, out any) error {
	if c == nil || c.provider == nil {
		return Remote(capability, "no model is configured", nil)
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := observe.StartSpan(ctx, "capability."+capability,
		trace.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("provider", c.providerName),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.complete(ctx, capability, req, out)
	c.metrics.RecordCapability(ctx, capability, time.Since(start).Seconds())

	status := "ok"
	if err != nil {
		status = "error"
		c.metrics.RecordProviderError(ctx, c.providerName, "llm")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observe.Logger(ctx).Warn("capability: request failed",
			"capability", capability,
			"provider", c.providerName,
			"err", err,
		)
	}
	c.metrics.RecordProviderRequest(ctx, c.providerName, "llm", status)
	return err
}

func (c *Client) complete(ctx context.Context, capability string, req llm.CompletionRequest, out any) error {
	resp, err := c.provider.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, llm.ErrVisionUnsupported) {
			return Remote(capability, "the configured model cannot read images", err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return Remote(capability, "the model did not answer in time", err)
		}
		return Remote(capability, "the model request failed", err)
	}
	if resp == nil {
		return Remote(capability, "the model returned no response", nil)
	}
	body := StripFences(resp.Content)
	if body == "" {
		return Remote(capability, "the model returned an empty response", nil)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return Remote(capability, "the model returned malformed data", err)
	}
	return nil
}

// StripFences trims whitespace and removes a surrounding markdown code fence
// (```json ... ``` or ``` ... ```) from s.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

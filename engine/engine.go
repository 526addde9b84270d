package engine

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Paranoid-AF/wayfindr/provider"
)

// Options configures an Engine.
type Options struct {
	// Location is used when the caller does not supply one.
	Location string
	// Fallback names a provider that receives input no provider claims.
	Fallback string
	// Retries is the number of extra attempts for retryable failures.
	Retries int
	// Timeout overrides DefaultTimeout for providers without api.timeout.
	Timeout time.Duration
}

// Result is the display-ready outcome of a query.
type Result struct {
	Provider string
	Command  string
	Query    string
	Text     string
	// Matched is false when no provider claimed the input.
	Matched bool
	// Err is the execution error behind Text, if any.
	Err error
}

// Engine resolves and executes queries against a Registry.
type Engine struct {
	reg      *provider.Registry
	resolver *Resolver
	executor *Executor
	opts     Options
}

// New creates an Engine. execOpts are applied after the timeout from opts.
func New(reg *provider.Registry, opts Options, execOpts ...ExecutorOption) *Engine {
	execOpts = append([]ExecutorOption{WithTimeout(opts.Timeout)}, execOpts...)
	return &Engine{
		reg:      reg,
		resolver: NewResolver(reg),
		executor: NewExecutor(execOpts...),
		opts:     opts,
	}
}

// Registry returns the registry the engine was built from.
func (e *Engine) Registry() *provider.Registry { return e.reg }

// Resolve resolves input, applying the fallback provider when configured.
func (e *Engine) Resolve(input string, caller map[string]string) (*Invocation, bool) {
	caller = e.callerContext(caller)
	if inv, ok := e.resolver.Resolve(input, caller); ok {
		ResolutionsTotal.WithLabelValues("matched").Inc()
		return inv, true
	}
	if e.opts.Fallback != "" && strings.TrimSpace(input) != "" {
		if inv, ok := e.resolver.Fallback(e.opts.Fallback, input, caller); ok {
			ResolutionsTotal.WithLabelValues("fallback").Inc()
			return inv, true
		}
		slog.Warn("fallback provider unavailable", "provider", e.opts.Fallback)
	}
	ResolutionsTotal.WithLabelValues("no_match").Inc()
	return nil, false
}

// Query resolves and executes input. Every failure is turned into display
// text; a cancelled ctx yields an empty Text with Err set.
func (e *Engine) Query(ctx context.Context, input string, caller map[string]string) Result {
	inv, ok := e.Resolve(input, caller)
	if !ok {
		return Result{}
	}
	res := Result{
		Provider: inv.Provider.ID,
		Command:  inv.Command.ID,
		Query:    inv.Query,
		Matched:  true,
	}

	id := uuid.NewString()
	slog.Debug("executing query", "id", id, "provider", res.Provider, "command", res.Command, "query", res.Query)

	start := time.Now()
	text, err := Retry(ctx, e.opts.Retries, func(ctx context.Context) (string, error) {
		return e.executor.Execute(ctx, inv)
	})
	ProviderLatency.WithLabelValues(res.Provider, res.Command).Observe(time.Since(start).Seconds())

	outcome := outcomeOf(ctx, err)
	QueriesTotal.WithLabelValues(res.Provider, outcome).Inc()

	switch {
	case err == nil:
		res.Text = text
	case outcome == outcomeCanceled:
		res.Err = err
		slog.Debug("query canceled", "id", id, "provider", res.Provider)
	default:
		res.Err = err
		res.Text = Describe(err, inv)
		slog.Warn("query failed", "id", id, "provider", res.Provider, "command", res.Command, "error", err)
	}
	return res
}

func (e *Engine) callerContext(caller map[string]string) map[string]string {
	if caller[KeyLocation] != "" || e.opts.Location == "" {
		return caller
	}
	c := maps.Clone(caller)
	if c == nil {
		c = make(map[string]string, 1)
	}
	c[KeyLocation] = e.opts.Location
	return c
}

func outcomeOf(ctx context.Context, err error) string {
	var re *RenderError
	switch {
	case err == nil:
		return outcomeOK
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return outcomeCanceled
	case errors.Is(err, ErrTimeout):
		return outcomeTimeout
	case errors.As(err, &re):
		return outcomeRender
	default:
		return outcomeNetwork
	}
}

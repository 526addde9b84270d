package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Paranoid-AF/wayfindr/provider"
	"github.com/Paranoid-AF/wayfindr/tmpl"
)

// DefaultTimeout bounds a provider call when neither the provider nor the
// executor sets a timeout.
const DefaultTimeout = 10 * time.Second

// maxBodySize caps how much of a response body is read. Larger bodies fail
// with ErrResponseTooLarge.
var maxBodySize int64 = 4 << 20

// Executor performs the HTTP call for an Invocation and renders the
// response. It is safe for concurrent use.
type Executor struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	lookupEnv func(string) (string, bool)
	now       func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient replaces the traced default client.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithTimeout sets the timeout used for providers without api.timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header sent to providers.
func WithUserAgent(ua string) ExecutorOption {
	return func(e *Executor) { e.userAgent = ua }
}

// WithEnv replaces os.LookupEnv as the source of API keys.
func WithEnv(lookup func(string) (string, bool)) ExecutorOption {
	return func(e *Executor) { e.lookupEnv = lookup }
}

// WithClock replaces time.Now as the source of the date and datetime keys
// for invocations that do not carry them.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor returns an Executor with DefaultTimeout and an otelhttp-traced
// client unless opts say otherwise.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		timeout:   DefaultTimeout,
		userAgent: "wayfindr",
		lookupEnv: os.LookupEnv,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.client == nil {
		e.client = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
		}
	}
	return e
}

// Execute calls the invocation's command and returns the rendered response.
// Failures are *NetworkError, *TimeoutError or *RenderError; a cancelled ctx
// yields an error wrapping ctx.Err().
func (e *Executor) Execute(ctx context.Context, inv *Invocation) (string, error) {
	p, cmd := inv.Provider, inv.Command
	vars := e.templateContext(inv)

	req, err := e.buildRequest(p, cmd, vars)
	if err != nil {
		return "", &NetworkError{Provider: p.ID, Command: cmd.ID, Err: err}
	}

	timeout := e.timeout
	if p.API.Timeout > 0 {
		timeout = p.API.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req = req.WithContext(callCtx)

	slog.Debug("calling provider", "provider", p.ID, "command", cmd.ID,
		"method", req.Method, "url", RedactURL(req.URL.String(), vars[KeyAPIKey]))

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return "", e.classify(ctx, callCtx, inv, timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return "", e.classify(ctx, callCtx, inv, timeout, err)
	}
	if int64(len(body)) > maxBodySize {
		return "", &NetworkError{
			Provider: p.ID,
			Command:  cmd.ID,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("%w (over %d bytes)", ErrResponseTooLarge, maxBodySize),
		}
	}
	slog.Debug("provider responded", "provider", p.ID, "command", cmd.ID,
		"status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &NetworkError{
			Provider: p.ID,
			Command:  cmd.ID,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("API error: %s", snippet(body)),
		}
	}
	if !gjson.ValidBytes(body) {
		return "", &NetworkError{Provider: p.ID, Command: cmd.ID, Err: ErrMalformedResponse}
	}

	t, err := cmd.Response()
	if err != nil {
		return "", &RenderError{Provider: p.ID, Command: cmd.ID, Err: err}
	}
	delete(vars, KeyAPIKey)
	return strings.TrimSpace(t.RenderWith(body, vars)), nil
}

// templateContext builds the flat context for request templates: the
// resolver's keys, the query and the API key read from the environment now.
func (e *Executor) templateContext(inv *Invocation) map[string]string {
	vars := make(map[string]string, len(inv.Context)+4)
	now := e.now()
	vars[KeyDate] = now.Format(time.DateOnly)
	vars[KeyDateTime] = now.UTC().Format(time.RFC3339)
	for k, v := range inv.Context {
		vars[k] = v
	}
	vars[KeyQuery] = inv.Query
	vars[KeyAPIKey] = ""
	if env := inv.Provider.API.APIKeyEnv; env != "" {
		if v, ok := e.lookupEnv(env); ok {
			vars[KeyAPIKey] = v
		}
	}
	return vars
}

func (e *Executor) buildRequest(p *provider.Provider, cmd *provider.Command, vars map[string]string) (*http.Request, error) {
	u, err := url.Parse(strings.TrimRight(p.API.BaseURL, "/") + joinEndpoint(cmd.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	params := make(map[string]string, len(cmd.Params))
	for _, name := range cmd.ParamNames {
		params[name] = cmd.Params[name].Expand(vars)
	}

	var body io.Reader
	switch {
	case cmd.Method == http.MethodGet || cmd.Method == http.MethodDelete:
		addQuery(u, cmd.ParamNames, params)
	case cmd.Body != nil:
		addQuery(u, cmd.ParamNames, params)
		data, err := json.Marshal(renderBody(cmd.Body, vars))
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
	default:
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(cmd.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	for name, t := range p.API.Headers {
		if v := t.Expand(vars); v != "" {
			req.Header.Set(name, v)
		}
	}
	return req, nil
}

func joinEndpoint(ep string) string {
	if ep == "" || strings.HasPrefix(ep, "/") {
		return ep
	}
	return "/" + ep
}

func addQuery(u *url.URL, names []string, params map[string]string) {
	if len(names) == 0 {
		return
	}
	q := u.Query()
	for _, name := range names {
		q.Set(name, params[name])
	}
	u.RawQuery = q.Encode()
}

// renderBody expands every string leaf of a body template.
func renderBody(v any, vars map[string]string) any {
	switch v := v.(type) {
	case string:
		out, err := tmpl.ExpandString(v, vars)
		if err != nil {
			return v
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, el := range v {
			out[k] = renderBody(el, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = renderBody(el, vars)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = renderBody(el, vars)
		}
		return out
	default:
		return v
	}
}

// classify maps a transport failure to the caller-visible error.
func (e *Executor) classify(parent, call context.Context, inv *Invocation, timeout time.Duration, err error) error {
	p, cmd := inv.Provider.ID, inv.Command.ID
	if parent.Err() != nil {
		return fmt.Errorf("%s/%s: %w", p, cmd, parent.Err())
	}
	if errors.Is(call.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return &TimeoutError{Provider: p, Command: cmd, After: timeout}
	}
	return &NetworkError{Provider: p, Command: cmd, Err: err}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Package engine turns free-text input into provider invocations and
// executes them: resolution, HTTP execution, rendering, retry and
// per-session cancellation.
package engine

import (
	"strings"
	"time"

	"github.com/Paranoid-AF/wayfindr/provider"
)

// Context keys set by the resolver.
const (
	KeyQuery    = "query"
	KeyLocation = "location"
	KeyDate     = "date"
	KeyDateTime = "datetime"
	KeyAPIKey   = "api_key"
)

// Invocation is the outcome of a successful resolution.
type Invocation struct {
	Provider *provider.Provider
	Command  *provider.Command
	// Query is the text captured by the matcher, trimmed. It may be empty.
	Query string
	// Context holds extra template keys such as location and date.
	Context map[string]string
}

// Resolver maps input text to an Invocation. It holds no mutable state and
// is safe for concurrent use.
type Resolver struct {
	reg *provider.Registry
	now func() time.Time
}

// NewResolver returns a Resolver over reg.
func NewResolver(reg *provider.Registry) *Resolver {
	return &Resolver{reg: reg, now: time.Now}
}

// Resolve walks providers by descending priority. The first enabled provider
// whose prefix or keyword pattern fits the input is selected, and its
// matchers decide the command. A selected provider with no matching matcher
// yields no match; lower-priority providers are not consulted.
func (r *Resolver) Resolve(input string, caller map[string]string) (*Invocation, bool) {
	input = strings.TrimSpace(input)
	lower := strings.ToLower(input)

	for _, p := range r.reg.ByPriority() {
		if !p.Enabled {
			continue
		}
		text, ok := trigger(p, input, lower)
		if !ok {
			continue
		}
		return r.match(p, text, caller)
	}
	return nil, false
}

// trigger reports whether p claims the input and returns the text its
// matchers see: the input with a matched prefix stripped once, or the input
// unchanged for a keyword pattern.
func trigger(p *provider.Provider, input, lower string) (string, bool) {
	for _, prefix := range p.Prefixes {
		if prefix != "" && strings.HasPrefix(input, prefix) {
			return strings.TrimSpace(input[len(prefix):]), true
		}
	}
	for _, pat := range p.Patterns {
		if strings.Contains(lower, pat) {
			return input, true
		}
	}
	return "", false
}

func (r *Resolver) match(p *provider.Provider, text string, caller map[string]string) (*Invocation, bool) {
	for _, m := range p.Matchers {
		groups := m.Pattern.FindStringSubmatchIndex(text)
		if groups == nil {
			continue
		}
		inv := &Invocation{
			Provider: p,
			Command:  m.Command,
			Context:  r.baseContext(),
		}
		if g := m.QueryGroup; g >= 0 && groups[2*g] >= 0 {
			inv.Query = strings.TrimSpace(text[groups[2*g]:groups[2*g+1]])
		}
		if m.UseLocation {
			inv.Context[KeyLocation] = caller[KeyLocation]
		}
		return inv, true
	}
	return nil, false
}

// Fallback builds an Invocation for the default search provider: its first
// command with the whole trimmed input as the query. Triggers are ignored;
// a disabled provider never resolves.
func (r *Resolver) Fallback(providerID, input string, caller map[string]string) (*Invocation, bool) {
	p, ok := r.reg.Find(providerID)
	if !ok || !p.Enabled || len(p.Commands) == 0 {
		return nil, false
	}
	inv := &Invocation{
		Provider: p,
		Command:  p.Commands[0],
		Query:    strings.TrimSpace(input),
		Context:  r.baseContext(),
	}
	if loc := caller[KeyLocation]; loc != "" {
		inv.Context[KeyLocation] = loc
	}
	return inv, true
}

func (r *Resolver) baseContext() map[string]string {
	now := r.now()
	return map[string]string{
		KeyDate:     now.Format(time.DateOnly),
		KeyDateTime: now.UTC().Format(time.RFC3339),
	}
}

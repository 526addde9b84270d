// Package provider holds provider definitions and the Registry built from
// them. Providers are pure data: triggers, an API descriptor, commands with
// request/response templates, and matchers selecting a command.
package provider

import (
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Paranoid-AF/wayfindr/tmpl"
)

// Definition is one provider as written in a TOML or YAML file.
type Definition struct {
	Provider ProviderInfo `toml:"provider" yaml:"provider"`
	Triggers Triggers     `toml:"triggers" yaml:"triggers"`
	API      APIDef       `toml:"api" yaml:"api"`
	Commands []CommandDef `toml:"commands" yaml:"commands"`
	Matchers []MatcherDef `toml:"matchers" yaml:"matchers"`

	// Source is the file the definition was read from.
	Source string `toml:"-" yaml:"-"`
}

type ProviderInfo struct {
	ID       string `toml:"id" yaml:"id"`
	Name     string `toml:"name" yaml:"name"`
	Priority int    `toml:"priority" yaml:"priority"`
	// Enabled defaults to true when omitted.
	Enabled *bool `toml:"enabled" yaml:"enabled"`
}

type Triggers struct {
	Prefixes []string `toml:"prefixes" yaml:"prefixes"`
	Patterns []string `toml:"patterns" yaml:"patterns"`
}

type APIDef struct {
	Type      string            `toml:"type" yaml:"type"`
	BaseURL   string            `toml:"base_url" yaml:"base_url"`
	APIKeyEnv string            `toml:"api_key_env" yaml:"api_key_env"`
	Headers   map[string]string `toml:"headers" yaml:"headers"`
	Timeout   string            `toml:"timeout" yaml:"timeout"`
}

type CommandDef struct {
	ID               string            `toml:"id" yaml:"id"`
	Name             string            `toml:"name" yaml:"name"`
	Endpoint         string            `toml:"endpoint" yaml:"endpoint"`
	Method           string            `toml:"method" yaml:"method"`
	Params           map[string]string `toml:"params" yaml:"params"`
	Body             any               `toml:"body" yaml:"body"`
	ResponseTemplate string            `toml:"response_template" yaml:"response_template"`
}

type MatcherDef struct {
	Pattern     string `toml:"pattern" yaml:"pattern"`
	Command     string `toml:"command" yaml:"command"`
	QueryGroup  *int   `toml:"query_group" yaml:"query_group"`
	UseLocation bool   `toml:"use_location" yaml:"use_location"`
}

// Provider is a validated, immutable provider.
type Provider struct {
	ID       string
	Name     string
	Priority int
	Enabled  bool
	Source   string

	// Prefixes match literally; Patterns are stored lowercased.
	Prefixes []string
	Patterns []string

	API      API
	Commands []*Command
	Matchers []*Matcher
}

// API describes where and how a provider's commands are sent.
type API struct {
	BaseURL   string
	APIKeyEnv string
	// Timeout is zero when the provider does not override the default.
	Timeout time.Duration
	// Headers are request-parameter templates keyed by header name.
	Headers map[string]*tmpl.Template
}

// Command is one invocable API operation.
type Command struct {
	ID       string
	Name     string
	Endpoint string
	Method   string
	// Params are request-parameter templates; ParamNames lists their keys sorted.
	Params     map[string]*tmpl.Template
	ParamNames []string
	// Body, when non-nil, is a JSON-like value whose string leaves are templates.
	Body any

	responseSrc string
	response    *tmpl.Template
	responseErr error
}

// Response returns the parsed response template, or the syntax error found
// while parsing it.
func (c *Command) Response() (*tmpl.Template, error) {
	return c.response, c.responseErr
}

// ResponseSource returns the response template text as written.
func (c *Command) ResponseSource() string { return c.responseSrc }

// Matcher maps an input shape to a command.
type Matcher struct {
	Pattern *regexp.Regexp
	Command *Command
	// QueryGroup is the capture group supplying the query, or -1 when unset.
	QueryGroup  int
	UseLocation bool
}

// Command returns the command with the given id.
func (p *Provider) Command(id string) (*Command, bool) {
	for _, c := range p.Commands {
		if c.ID == id {
			return c, true
		}
	}
	return nil, false
}

var supportedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// compile validates def and builds a Provider. Errors wrap one of the
// package's sentinel errors.
func compile(def Definition) (*Provider, error) {
	info := def.Provider
	if strings.TrimSpace(info.ID) == "" {
		return nil, fmt.Errorf("%w: missing provider id", ErrInvalidDefinition)
	}
	if def.API.Type != "" && def.API.Type != "rest" {
		return nil, fmt.Errorf("%w: unsupported api type %q", ErrInvalidDefinition, def.API.Type)
	}
	if def.API.BaseURL == "" {
		return nil, fmt.Errorf("%w: missing api.base_url", ErrInvalidDefinition)
	}

	p := &Provider{
		ID:       info.ID,
		Name:     info.Name,
		Priority: info.Priority,
		Enabled:  info.Enabled == nil || *info.Enabled,
		Source:   def.Source,
		Prefixes: append([]string(nil), def.Triggers.Prefixes...),
		API: API{
			BaseURL:   def.API.BaseURL,
			APIKeyEnv: def.API.APIKeyEnv,
			Headers:   make(map[string]*tmpl.Template, len(def.API.Headers)),
		},
	}
	if p.Name == "" {
		p.Name = p.ID
	}
	for _, pat := range def.Triggers.Patterns {
		if pat == "" {
			continue
		}
		p.Patterns = append(p.Patterns, strings.ToLower(pat))
	}

	if def.API.Timeout != "" {
		d, err := time.ParseDuration(def.API.Timeout)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: invalid api.timeout %q", ErrInvalidDefinition, def.API.Timeout)
		}
		p.API.Timeout = d
	}

	for name, src := range def.API.Headers {
		t, err := tmpl.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("%w: header %s: %v", ErrInvalidDefinition, name, err)
		}
		p.API.Headers[name] = t
	}

	for _, cd := range def.Commands {
		c, err := compileCommand(cd)
		if err != nil {
			return nil, err
		}
		if _, dup := p.Command(c.ID); dup {
			return nil, fmt.Errorf("%w: duplicate command id %q", ErrInvalidDefinition, c.ID)
		}
		if c.responseErr != nil {
			slog.Warn("response template does not parse; it will render a diagnostic",
				"provider", p.ID, "command", c.ID, "error", c.responseErr)
		}
		p.Commands = append(p.Commands, c)
	}

	for i, md := range def.Matchers {
		m, err := compileMatcher(p, md)
		if err != nil {
			return nil, fmt.Errorf("matcher %d: %w", i, err)
		}
		p.Matchers = append(p.Matchers, m)
	}

	return p, nil
}

func compileCommand(cd CommandDef) (*Command, error) {
	if cd.ID == "" {
		return nil, fmt.Errorf("%w: command without id", ErrInvalidDefinition)
	}
	method := strings.ToUpper(strings.TrimSpace(cd.Method))
	if method == "" {
		method = http.MethodGet
	}
	if !supportedMethods[method] {
		return nil, fmt.Errorf("%w: command %s: unsupported method %q", ErrInvalidDefinition, cd.ID, cd.Method)
	}

	c := &Command{
		ID:          cd.ID,
		Name:        cd.Name,
		Endpoint:    cd.Endpoint,
		Method:      method,
		Params:      make(map[string]*tmpl.Template, len(cd.Params)),
		Body:        cd.Body,
		responseSrc: cd.ResponseTemplate,
	}
	for name, src := range cd.Params {
		t, err := tmpl.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("%w: command %s param %s: %v", ErrInvalidDefinition, cd.ID, name, err)
		}
		c.Params[name] = t
		c.ParamNames = append(c.ParamNames, name)
	}
	sort.Strings(c.ParamNames)

	if err := checkBody(cd.Body); err != nil {
		return nil, fmt.Errorf("%w: command %s body: %v", ErrInvalidDefinition, cd.ID, err)
	}

	c.response, c.responseErr = tmpl.Parse(cd.ResponseTemplate)
	return c, nil
}

// checkBody parses every string leaf of a body template.
func checkBody(v any) error {
	switch v := v.(type) {
	case string:
		_, err := tmpl.Parse(v)
		return err
	case map[string]any:
		for _, el := range v {
			if err := checkBody(el); err != nil {
				return err
			}
		}
	case []any:
		for _, el := range v {
			if err := checkBody(el); err != nil {
				return err
			}
		}
	case []map[string]any:
		for _, el := range v {
			if err := checkBody(el); err != nil {
				return err
			}
		}
	}
	return nil
}

func compileMatcher(p *Provider, md MatcherDef) (*Matcher, error) {
	cmd, ok := p.Command(md.Command)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, md.Command)
	}
	re, err := regexp.Compile(md.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	m := &Matcher{Pattern: re, Command: cmd, QueryGroup: -1, UseLocation: md.UseLocation}
	if md.QueryGroup != nil {
		g := *md.QueryGroup
		if g < 0 || g > re.NumSubexp() {
			return nil, fmt.Errorf("%w: query_group %d out of range for %q", ErrInvalidPattern, g, md.Pattern)
		}
		m.QueryGroup = g
	}
	return m, nil
}

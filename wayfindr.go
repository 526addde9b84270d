// Package wayfindr defines the request/response types for wayfindr IPC and
// the daemon configuration. Messages are JSON-encoded and sent over a Unix
// domain socket, one per line.
package wayfindr

// Request is sent from a launcher client to the daemon.
type Request struct {
	// RequestID is a per-session incrementing identifier assigned by the
	// client. The daemon echoes it back in the response.
	RequestID int `json:"request_id"`
	// SessionID identifies the client session. A new request in a session
	// supersedes the one in flight, which then gets no response.
	SessionID string `json:"session_id"`
	// Input is the text typed so far.
	Input string `json:"input"`
	// Location overrides the configured location for this request.
	Location string `json:"location,omitempty"`
}

// Response is sent from the daemon back to the client.
type Response struct {
	RequestID int `json:"request_id"`
	// Matched is false when no provider claimed the input.
	Matched  bool   `json:"matched"`
	Provider string `json:"provider,omitempty"`
	Command  string `json:"command,omitempty"`
	Query    string `json:"query,omitempty"`
	// Text is the rendered result, or a description of the failure.
	Text string `json:"text"`
	// Error is set when the provider call failed.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the client.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "network_error", "timeout").
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConfigRequest is sent from the client for configuration operations.
type ConfigRequest struct {
	// Action is one of "get", "defaults", "validate", "providers" or "reload".
	Action string `json:"action"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	// Config is set for the "get", "defaults" and "reload" actions.
	Config *Config `json:"config,omitempty"`
	// Providers is set for the "providers" action.
	Providers []ProviderInfo `json:"providers,omitempty"`
	// Warnings contains configuration and provider load warnings.
	Warnings []string `json:"warnings,omitempty"`
	Error    *Error   `json:"error,omitempty"`
}

// ProviderInfo summarises a loaded provider.
type ProviderInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Priority int      `json:"priority"`
	Enabled  bool     `json:"enabled"`
	Source   string   `json:"source,omitempty"`
	Prefixes []string `json:"prefixes,omitempty"`
	Patterns []string `json:"patterns,omitempty"`
	Commands []string `json:"commands"`
}

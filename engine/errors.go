package engine

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Paranoid-AF/wayfindr/tmpl"
)

var (
	// ErrNetwork matches every *NetworkError and *TimeoutError.
	ErrNetwork = errors.New("network error")
	// ErrTimeout matches *TimeoutError.
	ErrTimeout = errors.New("timed out")
	// ErrMalformedResponse is wrapped by a *NetworkError whose body is not JSON.
	ErrMalformedResponse = errors.New("response is not valid JSON")
	// ErrResponseTooLarge is wrapped by a *NetworkError whose body exceeds the
	// read limit.
	ErrResponseTooLarge = errors.New("response too large")
)

// NetworkError reports a failed provider call: the connection failed, the
// API answered with a non-2xx status, or the body was not JSON.
type NetworkError struct {
	Provider string
	Command  string
	// Status is the HTTP status code, or 0 when no response was received.
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s/%s: HTTP %d: %v", e.Provider, e.Command, e.Status, e.Err)
	}
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Command, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// TimeoutError reports a provider call that exceeded its time bound.
type TimeoutError struct {
	Provider string
	Command  string
	After    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s/%s: no response after %s", e.Provider, e.Command, e.After)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout || target == ErrNetwork
}

// RenderError reports a response template that cannot be rendered.
type RenderError struct {
	Provider string
	Command  string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Command, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// retryable reports whether err is worth another attempt: a timeout or a
// call that never got a response.
func retryable(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Status == 0 && !errors.Is(ne.Err, ErrMalformedResponse)
	}
	return false
}

// Describe converts an execution error into display text.
func Describe(err error, inv *Invocation) string {
	name := "provider"
	keyEnv := ""
	if inv != nil && inv.Provider != nil {
		name = inv.Provider.Name
		keyEnv = inv.Provider.API.APIKeyEnv
	}

	var (
		te *TimeoutError
		ne *NetworkError
		re *RenderError
	)
	switch {
	case errors.As(err, &te):
		return fmt.Sprintf("%s: no response after %s", name, te.After)
	case errors.As(err, &re):
		return tmpl.Diagnostic(re.Err)
	case errors.As(err, &ne):
		switch {
		case errors.Is(ne.Err, ErrResponseTooLarge):
			return fmt.Sprintf("%s: response too large", name)
		case (ne.Status == http.StatusUnauthorized || ne.Status == http.StatusForbidden) && keyEnv != "":
			return fmt.Sprintf("%s: authentication failed; check the %s environment variable", name, keyEnv)
		case ne.Status != 0:
			return fmt.Sprintf("%s: request failed (HTTP %d)", name, ne.Status)
		case errors.Is(ne.Err, ErrMalformedResponse):
			return fmt.Sprintf("%s: unreadable response", name)
		default:
			return fmt.Sprintf("%s: unreachable (%v)", name, errors.Unwrap(ne))
		}
	default:
		return fmt.Sprintf("%s: %v", name, err)
	}
}

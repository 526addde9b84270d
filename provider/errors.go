package provider

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateProvider = errors.New("duplicate provider id")
	ErrUnknownCommand    = errors.New("matcher references unknown command")
	ErrInvalidPattern    = errors.New("invalid matcher pattern")
	ErrInvalidDefinition = errors.New("invalid provider definition")
)

// ConfigError reports a provider definition rejected at load time.
type ConfigError struct {
	Provider string // provider id, may be empty when the id itself is missing
	Source   string // file the definition came from, if known
	Err      error
}

func (e *ConfigError) Error() string {
	where := e.Provider
	if where == "" {
		where = "<unnamed>"
	}
	if e.Source != "" {
		return fmt.Sprintf("provider %s (%s): %v", where, e.Source, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", where, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Package defaults provides embedded default assets (config and built-in providers).
package defaults

import "embed"

//go:embed config.toml
var DefaultConfigTOML []byte

// Providers holds the built-in provider definitions under providers/.
//
//go:embed providers/*.toml
var Providers embed.FS

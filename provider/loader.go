package provider

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	defaults "github.com/Paranoid-AF/wayfindr/default"
)

// Parse decodes one definition. format is "toml" or "yaml".
func Parse(data []byte, format string) (Definition, error) {
	var def Definition
	switch format {
	case "toml":
		md, err := toml.Decode(string(data), &def)
		if err != nil {
			return Definition{}, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			slog.Debug("ignoring unknown provider keys", "keys", fmt.Sprint(undecoded))
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&def); err != nil {
			return Definition{}, err
		}
	default:
		return Definition{}, fmt.Errorf("unsupported provider format %q", format)
	}
	return def, nil
}

// formatOf maps a file name to its definition format, or "" when the file is
// not a provider definition.
func formatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".toml":
		return "toml"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}

// ParseFile reads and decodes a single definition file.
func ParseFile(p string) (Definition, error) {
	format := formatOf(p)
	if format == "" {
		return Definition{}, fmt.Errorf("%s: not a .toml or .yaml file", p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return Definition{}, err
	}
	def, err := Parse(data, format)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", p, err)
	}
	def.Source = p
	return def, nil
}

// LoadDir reads every definition file in dir, sorted by file name. Files that
// fail to parse are skipped and reported in the joined error. A missing
// directory yields no definitions and no error.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var defs []Definition
	var errs []error
	for _, e := range entries {
		if e.IsDir() || formatOf(e.Name()) == "" {
			continue
		}
		def, err := ParseFile(filepath.Join(dir, e.Name()))
		if err != nil {
			slog.Error("failed to parse provider file", "file", e.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, errors.Join(errs...)
}

// Builtin returns the provider definitions embedded in the binary.
func Builtin() []Definition {
	var names []string
	fs.WalkDir(defaults.Providers, ".", func(p string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && formatOf(p) != "" {
			names = append(names, p)
		}
		return nil
	})
	sort.Strings(names)

	defs := make([]Definition, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(defaults.Providers, name)
		if err != nil {
			panic("wayfindr: unreadable embedded provider " + name + ": " + err.Error())
		}
		def, err := Parse(data, formatOf(name))
		if err != nil {
			panic("wayfindr: invalid embedded provider " + name + ": " + err.Error())
		}
		def.Source = "builtin:" + path.Base(name)
		defs = append(defs, def)
	}
	return defs
}

// Discover returns the definitions in dir, falling back to the built-in
// providers when dir holds none.
func Discover(dir string) ([]Definition, error) {
	defs, err := LoadDir(dir)
	if len(defs) == 0 && err == nil {
		slog.Info("no provider definitions found, using built-in providers", "dir", dir)
		return Builtin(), nil
	}
	return defs, err
}

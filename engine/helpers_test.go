package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Paranoid-AF/wayfindr/provider"
)

func mustRegistry(t *testing.T, docs ...string) *provider.Registry {
	t.Helper()
	defs := make([]provider.Definition, 0, len(docs))
	for i, doc := range docs {
		def, err := provider.Parse([]byte(doc), "toml")
		require.NoError(t, err)
		def.Source = fmt.Sprintf("test%d.toml", i)
		defs = append(defs, def)
	}
	reg, err := provider.Load(defs)
	require.NoError(t, err)
	return reg
}

// simpleProvider is a provider with one command and a catch-all matcher.
func simpleProvider(id string, priority int, prefix, pattern string) string {
	return fmt.Sprintf(`
[provider]
id = %q
priority = %d

[triggers]
prefixes = [%q]
patterns = [%q]

[api]
base_url = "http://127.0.0.1:1"

[[commands]]
id = "run"
endpoint = "/run"
response_template = "{{text}}"

[commands.params]
q = "{{query}}"

[[matchers]]
pattern = '^(.*)$'
command = "run"
query_group = 1
`, id, priority, prefix, pattern)
}

func replaceOnce(s, old, new string) string {
	return strings.Replace(s, old, new, 1)
}

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// apiProvider builds a provider whose single command "cmd" calls baseURL.
// commandExtra is appended to the command table.
func apiProvider(baseURL, method, commandExtra, response string) string {
	return fmt.Sprintf(`
[provider]
id = "svc"
name = "Service"
priority = 1

[triggers]
prefixes = ["s:"]

[api]
base_url = %q
api_key_env = "SVC_API_KEY"

[api.headers]
X-Token = "{{api_key}}"
X-Empty = "{{nothing}}"

[[commands]]
id = "cmd"
endpoint = "/lookup"
method = %q
response_template = %q
%s

[[matchers]]
pattern = '^(.*)$'
command = "cmd"
query_group = 1
`, baseURL, method, response, commandExtra)
}

const getParams = `
[commands.params]
q = "{{query}}"
lang = "en"
`

func invocation(t *testing.T, doc, query string) *Invocation {
	t.Helper()
	reg := mustRegistry(t, doc)
	p, ok := reg.Find("svc")
	require.True(t, ok)
	cmd, _ := p.Command("cmd")
	return &Invocation{Provider: p, Command: cmd, Query: query, Context: map[string]string{}}
}

func testEnv(vals map[string]string) ExecutorOption {
	return WithEnv(func(k string) (string, bool) {
		v, ok := vals[k]
		return v, ok
	})
}

func TestExecuteGet(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte(`{"name":"Austin","temp":71}`))
	}))
	defer srv.Close()

	inv := invocation(t, apiProvider(srv.URL, "GET", getParams, "{{@query}}: {{name}} {{temp}}"), "Austin")
	ex := NewExecutor(testEnv(map[string]string{"SVC_API_KEY": "k3y"}), WithUserAgent("wayfindr-test"))

	text, err := ex.Execute(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "Austin: Austin 71", text)

	require.NotNil(t, got)
	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/lookup", got.URL.Path)
	assert.Equal(t, "Austin", got.URL.Query().Get("q"))
	assert.Equal(t, "en", got.URL.Query().Get("lang"))
	assert.Equal(t, "k3y", got.Header.Get("X-Token"))
	_, sent := got.Header["X-Empty"]
	assert.False(t, sent, "empty header values are not sent")
	assert.Equal(t, "wayfindr-test", got.Header.Get("User-Agent"))
}

func TestExecuteMissingAPIKey(t *testing.T) {
	var token []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Values("X-Token")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	inv := invocation(t, apiProvider(srv.URL, "GET", getParams, "ok"), "x")
	_, err := NewExecutor(testEnv(nil)).Execute(context.Background(), inv)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestExecutePostParamsAsJSONBody(t *testing.T) {
	var body map[string]string
	var ctype string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctype = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	inv := invocation(t, apiProvider(srv.URL, "POST", getParams, "{{ok}}"), "golang")
	text, err := NewExecutor(testEnv(nil)).Execute(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "true", text)
	assert.Equal(t, "application/json", ctype)
	assert.Equal(t, map[string]string{"q": "golang", "lang": "en"}, body)
}

func TestExecuteExplicitBody(t *testing.T) {
	var body map[string]any
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("q")
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &body))
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	extra := getParams + `
[commands.body]
search = "{{query}}"
limit = 5
tags = ["a", "{{query}}"]
`
	inv := invocation(t, apiProvider(srv.URL, "POST", extra, "done"), "go")
	_, err := NewExecutor(testEnv(nil)).Execute(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "go", query)
	assert.Equal(t, "go", body["search"])
	assert.EqualValues(t, 5, body["limit"])
	assert.Equal(t, []any{"a", "go"}, body["tags"])
}

func TestExecuteHTTPErrors(t *testing.T) {
	tests := []struct {
		status   int
		describe string
	}{
		{http.StatusUnauthorized, "Service: authentication failed; check the SVC_API_KEY environment variable"},
		{http.StatusForbidden, "Service: authentication failed; check the SVC_API_KEY environment variable"},
		{http.StatusInternalServerError, "Service: request failed (HTTP 500)"},
		{http.StatusNotFound, "Service: request failed (HTTP 404)"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"nope"}`, tt.status)
			}))
			defer srv.Close()

			inv := invocation(t, apiProvider(srv.URL, "GET", getParams, "x"), "q")
			text, err := NewExecutor(testEnv(nil)).Execute(context.Background(), inv)
			require.Error(t, err)
			assert.Empty(t, text)

			var ne *NetworkError
			require.True(t, errors.As(err, &ne))
			assert.Equal(t, tt.status, ne.Status)
			assert.True(t, errors.Is(err, ErrNetwork))
			assert.False(t, errors.Is(err, ErrTimeout))
			assert.Equal(t, tt.describe, Describe(err, inv))
		})
	}
}

func TestExecuteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	inv := invocation(t, apiProvider(srv.URL, "GET", getParams, "x"), "q")
	_, err := NewExecutor(testEnv(nil), WithTimeout(50*time.Millisecond)).Execute(context.Background(), inv)
	require.Error(t, err)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 50*time.Millisecond, te.After)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.Equal(t, "Service: no response after 50ms", Describe(err, inv))
}

func TestExecuteProviderTimeoutOverrides(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	doc := strings.Replace(apiProvider(srv.URL, "GET", getParams, "x"), `api_key_env = "SVC_API_KEY"`,
		"api_key_env = \"SVC_API_KEY\"\ntimeout = \"30ms\"", 1)
	inv := invocation(t, doc, "q")
	_, err := NewExecutor(testEnv(nil), WithTimeout(time.Hour)).Execute(context.Background(), inv)

	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 30*time.Millisecond, te.After)
}

func TestExecuteParentCanceled(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	inv := invocation(t, apiProvider(srv.URL, "GET", getParams, "x"), "q")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := NewExecutor(testEnv(nil)).Execute(ctx, inv)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestExecuteConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	inv := invocation(t, apiProvider(url, "GET", getParams, "x"), "q")
	_, err := NewExecutor(testEnv(nil)).Execute(context.Background(), inv)

	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, 0, ne.Status)
	assert.True(t, retryable(err))
	assert.True(t, strings.HasPrefix(Describe(err, inv), "Service: unreachable"))
}

func TestExecuteMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	inv := invocation(t, apiProvider(srv.URL, "GET", getParams, "{{x}}"), "q")
	text, err := NewExecutor(testEnv(nil)).Execute(context.Background(), inv)
	require.Error(t, err)
	assert.Empty(t, text)
	assert.True(t, errors.Is(err, ErrMalformedResponse))
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.False(t, retryable(err))
	assert.Equal(t, "Service: unreadable response", Describe(err, inv))
}

func TestExecuteBrokenResponseTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"list":[1]}`))
	}))
	defer srv.Close()

	inv := invocation(t, apiProvider(srv.URL, "GET", getParams, "{{#each list}}{{this}}"), "q")
	_, err := NewExecutor(testEnv(nil)).Execute(context.Background(), inv)

	var re *RenderError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "[template error: unclosed {{#each}} at offset 0]", Describe(err, inv))
}

func TestExecuteDoesNotExposeAPIKeyToResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	inv := invocation(t, apiProvider(srv.URL, "GET", getParams, "[{{@api_key}}]"), "q")
	text, err := NewExecutor(testEnv(map[string]string{"SVC_API_KEY": "secret"})).Execute(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "[]", text)
}

func TestBuildRequestJoinsEndpoint(t *testing.T) {
	inv := invocation(t, apiProvider("https://api.example.com/v1/", "GET", getParams, "x"), "a b")
	ex := NewExecutor(testEnv(nil))
	req, err := ex.buildRequest(inv.Provider, inv.Command, ex.templateContext(inv))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/v1/lookup?lang=en&q=a+b", req.URL.String())
}

func TestExecuteResponseTooLarge(t *testing.T) {
	old := maxBodySize
	maxBodySize = 16
	t.Cleanup(func() { maxBodySize = old })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"a value longer than sixteen bytes"}`))
	}))
	defer srv.Close()

	inv := invocation(t, apiProvider(srv.URL, "GET", getParams, "{{name}}"), "x")
	_, err := NewExecutor(testEnv(nil)).Execute(context.Background(), inv)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResponseTooLarge)
	assert.NotErrorIs(t, err, ErrMalformedResponse)
	assert.False(t, retryable(err))
	assert.Equal(t, "Service: response too large", Describe(err, inv))
}

func TestExecuteBodyAtLimit(t *testing.T) {
	body := `{"v":"ok"}`
	old := maxBodySize
	maxBodySize = int64(len(body))
	t.Cleanup(func() { maxBodySize = old })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	inv := invocation(t, apiProvider(srv.URL, "GET", getParams, "{{v}}"), "x")
	text, err := NewExecutor(testEnv(nil)).Execute(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestExecuteClockFillsDates(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	params := `
[commands.params]
d = "{{date}}"
dt = "{{datetime}}"
`
	inv := invocation(t, apiProvider(srv.URL, "GET", params, "ok"), "")
	clock := func() time.Time { return time.Date(2024, 3, 9, 22, 30, 0, 0, time.FixedZone("X", -5*3600)) }

	_, err := NewExecutor(testEnv(nil), WithClock(clock)).Execute(context.Background(), inv)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "2024-03-09", got.URL.Query().Get("d"))
	assert.Equal(t, "2024-03-10T03:30:00Z", got.URL.Query().Get("dt"))
}

func TestSnippetKeepsRunesWhole(t *testing.T) {
	body := []byte(strings.Repeat("a", 199) + "é" + "tail")
	got := snippet(body)
	assert.Equal(t, strings.Repeat("a", 199)+"...", got)
	assert.True(t, utf8.ValidString(got))

	assert.Equal(t, "short", snippet([]byte("  short  ")))
}

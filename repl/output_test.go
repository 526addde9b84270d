package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Paranoid-AF/wayfindr/engine"
)

func TestTomlQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", `"plain"`},
		{`say "hi"`, `"say \"hi\""`},
		{`C:\dir`, `"C:\\dir"`},
		{"a\nb\tc\r", `"a\nb\tc\r"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tomlQuote(tt.in), tt.in)
	}
}

type logged struct {
	Request struct {
		Input    string `toml:"input"`
		Location string `toml:"location"`
	} `toml:"request"`
	Result struct {
		Matched  bool   `toml:"matched"`
		Provider string `toml:"provider"`
		Command  string `toml:"command"`
		Query    string `toml:"query"`
		Text     string `toml:"text"`
	} `toml:"result"`
	Error struct {
		Kind    string `toml:"kind"`
		Message string `toml:"message"`
	} `toml:"error"`
}

func decodeEntry(t *testing.T, e entry) logged {
	t.Helper()
	var buf bytes.Buffer
	writeEntry(&buf, e)
	var got logged
	_, err := toml.Decode(buf.String(), &got)
	require.NoError(t, err, "entry is not valid TOML:\n%s", buf.String())
	return got
}

func TestWriteEntryIsValidTOML(t *testing.T) {
	got := decodeEntry(t, entry{
		Time:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Input:    `weather in "Austin"`,
		Location: "Austin",
		Elapsed:  120 * time.Millisecond,
		Result: engine.Result{
			Provider: "weather",
			Command:  "current",
			Query:    "Austin",
			Text:     "Austin: 72°F\nclear sky",
			Matched:  true,
		},
	})

	assert.Equal(t, `weather in "Austin"`, got.Request.Input)
	assert.Equal(t, "Austin", got.Request.Location)
	assert.True(t, got.Result.Matched)
	assert.Equal(t, "weather", got.Result.Provider)
	assert.Equal(t, "current", got.Result.Command)
	assert.Equal(t, "Austin: 72°F\nclear sky", got.Result.Text)
	assert.Empty(t, got.Error.Kind, "no error table for a successful query")
}

func TestWriteEntryError(t *testing.T) {
	got := decodeEntry(t, entry{
		Time:  time.Now(),
		Input: "$AAPL",
		Result: engine.Result{
			Provider: "stocks",
			Command:  "quote",
			Query:    "AAPL",
			Text:     "Stocks: no response after 10s",
			Matched:  true,
			Err:      &engine.TimeoutError{Provider: "stocks", Command: "quote", After: 10 * time.Second},
		},
	})
	assert.Equal(t, "timeout", got.Error.Kind)
	assert.Contains(t, got.Error.Message, "no response after 10s")
}

func TestWriteEntryNoMatch(t *testing.T) {
	var buf bytes.Buffer
	writeEntry(&buf, entry{Time: time.Now(), Input: "gibberish"})
	assert.Contains(t, buf.String(), "matched = false")
	assert.NotContains(t, buf.String(), "provider =")
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&engine.TimeoutError{}, "timeout"},
		{&engine.RenderError{Err: context.DeadlineExceeded}, "render"},
		{&engine.NetworkError{Status: 500}, "network"},
		{context.Canceled, "canceled"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorKind(tt.err), "%v", tt.err)
	}
}

func TestPreview(t *testing.T) {
	assert.Empty(t, preview(engine.Result{}))
	got := preview(engine.Result{Provider: "news", Matched: true, Text: "one\n  two\tthree"})
	assert.Equal(t, "news: one two three", got)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"short", 80, "short"},
		{"first\nsecond", 80, "first …"},
		{"abcdefgh", 5, "abc…"},
		{"héllo wörld", 6, "héll…"},
		{"x", 1, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.width), "truncate(%q, %d)", tt.in, tt.width)
	}
}

func TestCrlfWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &crlfWriter{w: &buf}
	n, err := w.Write([]byte("a\nb\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "a\r\nb\r\n", buf.String())
}

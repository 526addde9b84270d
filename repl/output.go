package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/Paranoid-AF/wayfindr/engine"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

// entry is one query as logged by the REPL.
type entry struct {
	Time     time.Time
	Input    string
	Location string
	Elapsed  time.Duration
	Result   engine.Result
}

// writeEntry writes a single TOML-formatted entry to w.
func writeEntry(w io.Writer, e entry) {
	fmt.Fprintf(w, "# %s\n\n", strings.Repeat("═", 60))

	fmt.Fprintln(w, "[request]")
	fmt.Fprintf(w, "timestamp = %s\n", e.Time.Format(time.RFC3339))
	fmt.Fprintf(w, "input = %s\n", tomlQuote(e.Input))
	if e.Location != "" {
		fmt.Fprintf(w, "location = %s\n", tomlQuote(e.Location))
	}
	fmt.Fprintln(w)

	res := e.Result
	fmt.Fprintln(w, "[result]")
	fmt.Fprintf(w, "matched = %t\n", res.Matched)
	if res.Matched {
		fmt.Fprintf(w, "provider = %s\n", tomlQuote(res.Provider))
		fmt.Fprintf(w, "command = %s\n", tomlQuote(res.Command))
		fmt.Fprintf(w, "query = %s\n", tomlQuote(res.Query))
		fmt.Fprintf(w, "elapsed_ms = %d\n", e.Elapsed.Milliseconds())
		fmt.Fprintf(w, "text = %s\n", tomlQuote(res.Text))
	}
	fmt.Fprintln(w)

	if res.Err != nil {
		fmt.Fprintln(w, "[error]")
		fmt.Fprintf(w, "kind = %s\n", tomlQuote(errorKind(res.Err)))
		fmt.Fprintf(w, "message = %s\n", tomlQuote(res.Err.Error()))
		fmt.Fprintln(w)
	}
}

// writeSummary writes the human-readable view of a result to the tty.
func writeSummary(w io.Writer, res engine.Result) {
	switch {
	case !res.Matched:
		fmt.Fprintln(w, "(no provider matched)")
	case res.Err != nil:
		fmt.Fprintf(w, "[%s/%s] error: %s\n", res.Provider, res.Command, res.Text)
	default:
		fmt.Fprintf(w, "[%s/%s] %s\n", res.Provider, res.Command, tomlQuote(res.Query))
		for _, line := range strings.Split(res.Text, "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintln(w)
}

// preview is the one-line form of a result shown while typing.
func preview(res engine.Result) string {
	if !res.Matched {
		return ""
	}
	return res.Provider + ": " + strings.Join(strings.Fields(res.Text), " ")
}

func errorKind(err error) string {
	var re *engine.RenderError
	switch {
	case errors.Is(err, engine.ErrTimeout):
		return "timeout"
	case errors.As(err, &re):
		return "render"
	case errors.Is(err, engine.ErrNetwork):
		return "network"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}

// tomlQuote returns a TOML basic-string quoted value.
func tomlQuote(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\t", "\\t")
	s = strings.ReplaceAll(s, "\r", "\\r")
	return "\"" + s + "\""
}

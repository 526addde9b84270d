// Command wayfindr-repl is an interactive test REPL for provider queries.
// While typing it previews the result of the current line the way a
// launcher would, and on Enter it runs the query and writes a structured
// TOML entry to stdout.
//
// Usage:
//
//	./wayfindr-repl             # interactive, TOML on screen
//	./wayfindr-repl > log.toml  # prompt on screen, TOML to file
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"mvdan.cc/sh/v3/shell"

	"github.com/Paranoid-AF/wayfindr/engine"
)

const prompt = "> "

func main() {
	live := flag.Bool("live", true, "preview results while typing")
	verbose := flag.Bool("verbose", false, "log engine activity to stderr")
	flag.Parse()

	editor, err := NewEditor()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer editor.Close()

	// Raw mode is on, so log lines need \r\n too. Warnings would overwrite
	// the preview line; only show them when asked.
	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(termWriter(os.Stderr), &slog.HandlerOptions{Level: level})))

	tty := termWriter(editor.Tty())
	out := termWriter(os.Stdout)

	r := &repl{tty: tty, out: out, editor: editor}
	r.load()

	fmt.Fprint(tty, "\033[2J\033[H") // clear screen
	fmt.Fprintf(tty, "wayfindr repl (session %s)\n", r.id)
	fmt.Fprintf(tty, "providers: %d, location: %q\n", r.rt.Registry.Len(), r.location())
	for _, w := range r.rt.Warnings {
		fmt.Fprintf(tty, "warning: %s\n", w)
	}
	fmt.Fprint(tty, "\ncommands:\n")
	fmt.Fprint(tty, "  :location [place]  set or show the location\n")
	fmt.Fprint(tty, "  :providers         list loaded providers\n")
	fmt.Fprint(tty, "  :reload            reload config and providers\n")
	fmt.Fprint(tty, "  :quit              exit\n\n")

	if *live {
		editor.OnChange = r.preview
	}

	for {
		text, err := editor.ReadLine(prompt)
		if err == io.EOF || err == ErrInterrupt {
			break
		}
		if err != nil {
			fmt.Fprintf(tty, "read error: %v\n", err)
			break
		}

		text = strings.TrimSpace(text)
		if text == "" {
			r.session.Cancel()
			continue
		}
		if strings.HasPrefix(text, ":") {
			if quit := r.command(text[1:]); quit {
				break
			}
			continue
		}
		r.query(text)
	}
	r.session.Cancel()
}

type repl struct {
	tty    io.Writer
	out    io.Writer
	editor *Editor

	id       string
	rt       *engine.Runtime
	session  *engine.Session
	override string
}

// load (re)builds the runtime and starts a fresh session on it.
func (r *repl) load() {
	if r.session != nil {
		r.session.Cancel()
	}
	r.rt = engine.LoadRuntime()
	r.session = engine.NewSession(r.rt.Engine)
	r.id = uuid.NewString()
}

// location is the caller location sent with each query.
func (r *repl) location() string {
	if r.override != "" {
		return r.override
	}
	return r.rt.Config.Location
}

func (r *repl) caller() map[string]string {
	if r.override == "" {
		return nil
	}
	return map[string]string{engine.KeyLocation: r.override}
}

// preview runs line in the background and shows its result on the status
// line. Commands and empty lines are not previewed.
func (r *repl) preview(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, ":") {
		r.session.Cancel()
		r.editor.SetStatus("")
		return
	}
	r.session.Submit(line, r.caller(), func(res engine.Result) {
		r.editor.SetStatus(preview(res))
	})
}

func (r *repl) query(text string) {
	start := time.Now()
	res, ok := r.session.Query(context.Background(), text, r.caller())
	if !ok {
		return
	}
	writeSummary(r.tty, res)
	writeEntry(r.out, entry{
		Time:     start,
		Input:    text,
		Location: r.location(),
		Elapsed:  time.Since(start),
		Result:   res,
	})
}

// command runs a ":" command and reports whether the REPL should exit.
func (r *repl) command(line string) bool {
	args, err := shell.Fields(line, nil)
	if err != nil {
		fmt.Fprintf(r.tty, "error: %v\n\n", err)
		return false
	}
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "quit", "q":
		return true

	case "location", "loc":
		if len(args) > 1 {
			r.override = strings.Join(args[1:], " ")
		}
		fmt.Fprintf(r.tty, "location: %q\n\n", r.location())

	case "providers":
		for _, p := range r.rt.Providers() {
			state := ""
			if !p.Enabled {
				state = " (disabled)"
			}
			fmt.Fprintf(r.tty, "  %-12s %4d  %s%s\n", p.ID, p.Priority, p.Name, state)
			if len(p.Prefixes) > 0 {
				fmt.Fprintf(r.tty, "               prefixes: %s\n", strings.Join(p.Prefixes, " "))
			}
		}
		fmt.Fprintln(r.tty)

	case "reload":
		r.load()
		fmt.Fprintf(r.tty, "reloaded: %d providers, %d warnings\n", r.rt.Registry.Len(), len(r.rt.Warnings))
		for _, w := range r.rt.Warnings {
			fmt.Fprintf(r.tty, "warning: %s\n", w)
		}
		fmt.Fprintln(r.tty)

	default:
		fmt.Fprintf(r.tty, "unknown command :%s\n\n", args[0])
	}
	return false
}

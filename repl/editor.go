package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/term"
)

// ErrInterrupt is returned when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupted")

// Editor is a minimal line editor with a status line under the prompt.
// It reads from /dev/tty so it works even when stdout is redirected.
type Editor struct {
	tty      *os.File
	oldState *term.State

	// OnChange, when set, is called with the line after every edit. It runs
	// on the reading goroutine without the editor lock held.
	OnChange func(line string)

	mu     sync.Mutex
	prompt string
	buf    []byte
	pos    int // cursor byte offset into buf
	status string
	active bool
}

// NewEditor opens /dev/tty and switches to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	return &Editor{tty: tty, oldState: old}, nil
}

// Close restores terminal state and closes the tty fd.
func (e *Editor) Close() {
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Tty returns the tty file for writing prompts/UI.
func (e *Editor) Tty() *os.File {
	return e.tty
}

// SetStatus replaces the status line. It is safe to call from any
// goroutine and is a no-op when no line is being read.
func (e *Editor) SetStatus(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return
	}
	e.status = s
	e.redraw()
}

// ReadLine displays the prompt and reads one line.
// Returns io.EOF when the user presses Ctrl-D on empty input.
func (e *Editor) ReadLine(prompt string) (string, error) {
	e.mu.Lock()
	e.prompt = prompt
	e.buf = e.buf[:0]
	e.pos = 0
	e.status = ""
	e.active = true
	e.redraw()
	e.mu.Unlock()

	for {
		line, changed, done, err := e.step()
		if done || err != nil {
			return line, err
		}
		if changed && e.OnChange != nil {
			e.OnChange(line)
		}
	}
}

// step reads and applies one key. done is set when the line is finished.
func (e *Editor) step() (line string, changed, done bool, err error) {
	var b [1]byte
	if _, err := e.tty.Read(b[:]); err != nil {
		e.end()
		return "", false, true, err
	}

	// Escape sequences need further reads; do them before taking the lock.
	var seq []byte
	var ch []byte
	switch {
	case b[0] == 27:
		seq = e.readEscape()
	case b[0] >= 0xC0:
		ch = make([]byte, utf8RuneLen(b[0]))
		ch[0] = b[0]
		io.ReadFull(e.tty, ch[1:])
	case b[0] >= 32 && b[0] < 127:
		ch = []byte{b[0]}
	}

	e.mu.Lock()
	before := string(e.buf)

	switch b[0] {
	case 3: // Ctrl-C
		e.mu.Unlock()
		e.end()
		return "", false, true, ErrInterrupt

	case 4: // Ctrl-D
		if len(e.buf) == 0 {
			e.mu.Unlock()
			e.end()
			return "", false, true, io.EOF
		}

	case 13, 10: // Enter
		s := string(e.buf)
		e.mu.Unlock()
		e.end()
		return s, false, true, nil

	case 127, 8: // Backspace / Ctrl-H
		if e.pos > 0 {
			_, size := prevRune(e.buf, e.pos)
			copy(e.buf[e.pos-size:], e.buf[e.pos:])
			e.buf = e.buf[:len(e.buf)-size]
			e.pos -= size
		}

	case 1: // Ctrl-A
		e.pos = 0

	case 5: // Ctrl-E
		e.pos = len(e.buf)

	case 21: // Ctrl-U
		e.buf = e.buf[:0]
		e.pos = 0

	case 23: // Ctrl-W
		start := e.pos
		for start > 0 && e.buf[start-1] == ' ' {
			start--
		}
		for start > 0 && e.buf[start-1] != ' ' {
			start--
		}
		e.buf = append(e.buf[:start], e.buf[e.pos:]...)
		e.pos = start

	case 27:
		e.applyEscape(seq)

	default:
		if len(ch) > 0 {
			e.buf = append(e.buf, make([]byte, len(ch))...)
			copy(e.buf[e.pos+len(ch):], e.buf[e.pos:len(e.buf)-len(ch)])
			copy(e.buf[e.pos:], ch)
			e.pos += len(ch)
		}
	}

	line = string(e.buf)
	e.redraw()
	e.mu.Unlock()
	return line, line != before, false, nil
}

// readEscape reads the rest of a CSI sequence such as "[D" or "[3~".
func (e *Editor) readEscape() []byte {
	var seq []byte
	var b [1]byte
	if n, _ := e.tty.Read(b[:]); n == 0 || b[0] != '[' {
		return nil
	}
	for len(seq) < 6 {
		if n, _ := e.tty.Read(b[:]); n == 0 {
			break
		}
		seq = append(seq, b[0])
		if b[0] >= 0x40 && b[0] <= 0x7E {
			break
		}
	}
	return seq
}

func (e *Editor) applyEscape(seq []byte) {
	switch string(seq) {
	case "D": // Left
		if e.pos > 0 {
			_, size := prevRune(e.buf, e.pos)
			e.pos -= size
		}
	case "C": // Right
		if e.pos < len(e.buf) {
			_, size := utf8.DecodeRune(e.buf[e.pos:])
			e.pos += size
		}
	case "H", "1~": // Home
		e.pos = 0
	case "F", "4~": // End
		e.pos = len(e.buf)
	case "3~": // Delete
		if e.pos < len(e.buf) {
			_, size := utf8.DecodeRune(e.buf[e.pos:])
			copy(e.buf[e.pos:], e.buf[e.pos+size:])
			e.buf = e.buf[:len(e.buf)-size]
		}
	}
}

// end stops status updates and moves below the prompt, clearing the
// status line.
func (e *Editor) end() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	e.status = ""
	fmt.Fprint(e.tty, "\r\n\x1b[J")
}

// redraw repaints the prompt line and the status line below it, then puts
// the cursor back at e.pos. The caller holds e.mu.
func (e *Editor) redraw() {
	var sb strings.Builder
	// \r = carriage return, \x1b[J = clear to end of screen
	sb.WriteString("\r\x1b[J")
	sb.WriteString(e.prompt)
	sb.Write(e.buf)
	if e.status != "" {
		sb.WriteString("\r\n\x1b[2m")
		sb.WriteString(truncate(e.status, e.width()))
		sb.WriteString("\x1b[0m\x1b[1A")
	}
	sb.WriteString("\r")
	if col := utf8.RuneCountInString(e.prompt) + utf8.RuneCount(e.buf[:e.pos]); col > 0 {
		fmt.Fprintf(&sb, "\x1b[%dC", col)
	}
	io.WriteString(e.tty, sb.String())
}

func (e *Editor) width() int {
	w, _, err := term.GetSize(int(e.tty.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// truncate cuts s to its first line and at most width-1 runes.
func truncate(s string, width int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " …"
	}
	if width <= 1 {
		return ""
	}
	if utf8.RuneCountInString(s) < width {
		return s
	}
	r := []rune(s)
	return string(r[:width-2]) + "…"
}

// prevRune returns the rune and byte size of the rune before pos.
func prevRune(buf []byte, pos int) (rune, int) {
	if pos <= 0 {
		return 0, 0
	}
	i := pos - 1
	for i > 0 && !utf8.RuneStart(buf[i]) {
		i--
	}
	return utf8.DecodeRune(buf[i:pos])
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence
// from its leading byte.
func utf8RuneLen(lead byte) int {
	switch {
	case lead < 0xC0:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	}
	return 4
}

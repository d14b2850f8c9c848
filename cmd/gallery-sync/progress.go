package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"smart-gallery/internal/progress"
)

const defaultWidth = 80

// progressLine renders sync progress. On a terminal it redraws a single
// line in place; otherwise it prints one line per phase change.
type progressLine struct {
	out   io.Writer
	tty   bool
	width int
	phase progress.Phase
	drawn bool
}

func newProgressLine(out io.Writer) *progressLine {
	p := &progressLine{out: out, width: defaultWidth}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			p.width = w
		}
	}
	return p
}

// Render draws ev.
func (p *progressLine) Render(ev progress.Event) {
	text := formatEvent(ev)
	if p.tty {
		fmt.Fprintf(p.out, "\r%s", fit(text, p.width-1))
		p.drawn = true
		return
	}
	if ev.Phase != p.phase || ev.Done {
		fmt.Fprintln(p.out, text)
	}
	p.phase = ev.Phase
}

// Finish moves past the redrawn line.
func (p *progressLine) Finish() {
	if p.tty && p.drawn {
		fmt.Fprintln(p.out)
	}
}

func formatEvent(ev progress.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", ev.Phase)
	if ev.Total > 0 {
		fmt.Fprintf(&b, " %d/%d (%d%%)", ev.Processed, ev.Total, ev.Processed*100/ev.Total)
	} else if ev.Processed > 0 {
		fmt.Fprintf(&b, " %d", ev.Processed)
	}
	if ev.Failures > 0 {
		fmt.Fprintf(&b, " %d failed", ev.Failures)
	}
	if ev.Message != "" {
		b.WriteString(" ")
		b.WriteString(ev.Message)
	}
	return b.String()
}

// fit pads s with spaces to exactly width runes, truncating with "..." when
// it is longer, so a redraw fully covers the previous line.
func fit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) > width {
		if width <= 3 {
			return string(r[:width])
		}
		return string(r[:width-3]) + "..."
	}
	return s + strings.Repeat(" ", width-len(r))
}

package devserver

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hupe1980/plugindev/internal/scan"
)

const (
	ansiRed       = "\033[31m"
	ansiGreen     = "\033[32m"
	ansiCyan      = "\033[36m"
	ansiBold      = "\033[1m"
	ansiUnderline = "\033[4m"
	ansiReset     = "\033[0m"
)

// console serialises writes to the user-facing output.
type console struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

func newConsole(w io.Writer, noColor bool) *console {
	if w == nil {
		w = io.Discard
	}

	return &console{w: w, color: !noColor}
}

func (c *console) style(code, s string) string {
	if !c.color {
		return s
	}

	return code + s + ansiReset
}

// banner prints the two startup lines.
func (c *console) banner(dir string, bundlerPort int, proxyURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = fmt.Fprintf(c.w, "ESBuild for %s on port %s\n",
		c.style(ansiUnderline, dir), c.style(ansiUnderline, fmt.Sprint(bundlerPort)))
	_, _ = fmt.Fprintf(c.w, "Development server started on %s\n", c.style(ansiBold, proxyURL))
}

// change prints an entry point diff after a rescan.
func (c *console) change(ch scan.Change) {
	unified, err := ch.Unified()
	if err != nil || unified == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = fmt.Fprintf(c.w, "Entry points changed (%s)\n", ch.Summary())

	for _, line := range strings.Split(strings.TrimRight(unified, "\n"), "\n") {
		c.diffLine(line)
	}
}

func (c *console) diffLine(line string) {
	switch {
	case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		_, _ = fmt.Fprintln(c.w, c.style(ansiBold, line))
	case strings.HasPrefix(line, "@@"):
		_, _ = fmt.Fprintln(c.w, c.style(ansiCyan, line))
	case strings.HasPrefix(line, "-"):
		_, _ = fmt.Fprintln(c.w, c.style(ansiRed, line))
	case strings.HasPrefix(line, "+"):
		_, _ = fmt.Fprintln(c.w, c.style(ansiGreen, line))
	default:
		_, _ = fmt.Fprintln(c.w, line)
	}
}

// printf writes a plain message line.
func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = fmt.Fprintf(c.w, format+"\n", args...)
}

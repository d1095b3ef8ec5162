// Package console renders user-facing progress messages on a terminal.
package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Logger is the sink the build pipeline reports progress to.
type Logger interface {
	Info(msg string)
	Success(msg string)
	Warn(msg string)
	Error(msg string)
	// StartProgress shows msg with an activity indicator until the
	// returned Progress is stopped.
	StartProgress(msg string) Progress
}

// Progress is a running activity indicator.
type Progress interface {
	Stop(ok bool)
}

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// Console writes messages prefixed with a colored glyph. On a terminal a
// progress indicator redraws its line in place; elsewhere it prints once.
type Console struct {
	mu          sync.Mutex
	out         io.Writer
	interactive bool
	active      *indicator
}

// New returns a Console writing to out.
func New(out io.Writer) *Console {
	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &Console{out: out, interactive: interactive}
}

func (c *Console) Info(msg string)    { c.line(infoStyle.Render("ℹ"), msg, false) }
func (c *Console) Warn(msg string)    { c.line(warnStyle.Render("⚠"), msg, false) }
func (c *Console) Success(msg string) { c.line(successStyle.Render("✔"), msg, true) }
func (c *Console) Error(msg string)   { c.line(errorStyle.Render("✖"), msg, true) }

// line prints one message. Success and error lines end a running indicator;
// info and warn lines print above it.
func (c *Console) line(glyph, msg string, finishes bool) {
	var stop *indicator
	c.mu.Lock()
	if finishes && c.active != nil {
		stop = c.active
		c.active = nil
	}
	c.mu.Unlock()
	if stop != nil {
		stop.halt()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLine()
	fmt.Fprintf(c.out, "%s %s\n", glyph, msg)
}

func (c *Console) clearLine() {
	if c.interactive && c.active != nil {
		fmt.Fprint(c.out, "\r\033[2K")
	}
}

func (c *Console) StartProgress(msg string) Progress {
	c.mu.Lock()
	prev := c.active
	c.active = nil
	c.mu.Unlock()
	if prev != nil {
		prev.halt()
	}

	ind := &indicator{c: c, msg: msg, done: make(chan struct{}), stopped: make(chan struct{})}
	c.mu.Lock()
	c.active = ind
	c.mu.Unlock()
	if !c.interactive {
		c.mu.Lock()
		fmt.Fprintf(c.out, "%s %s\n", infoStyle.Render("…"), msg)
		c.mu.Unlock()
		close(ind.stopped)
		return ind
	}
	go ind.loop(spinner.Dot)
	return ind
}

type indicator struct {
	c       *Console
	msg     string
	once    sync.Once
	done    chan struct{}
	stopped chan struct{}
}

func (i *indicator) loop(s spinner.Spinner) {
	defer close(i.stopped)
	t := time.NewTicker(s.FPS)
	defer t.Stop()
	frame := 0
	for {
		select {
		case <-i.done:
			return
		case <-t.C:
			i.c.mu.Lock()
			fmt.Fprintf(i.c.out, "\r\033[2K%s%s", s.Frames[frame%len(s.Frames)], i.msg)
			i.c.mu.Unlock()
			frame++
		}
	}
}

// halt stops redrawing and clears the indicator line.
func (i *indicator) halt() {
	i.once.Do(func() {
		close(i.done)
		<-i.stopped
		if i.c.interactive {
			i.c.mu.Lock()
			fmt.Fprint(i.c.out, "\r\033[2K")
			i.c.mu.Unlock()
		}
	})
}

func (i *indicator) Stop(ok bool) {
	i.c.mu.Lock()
	current := i.c.active == i
	if current {
		i.c.active = nil
	}
	i.c.mu.Unlock()
	if !current {
		i.halt()
		return
	}
	i.halt()
	if ok {
		i.c.Success(i.msg)
	} else {
		i.c.Error(i.msg)
	}
}

// Discard returns a Logger that drops everything.
func Discard() Logger { return discard{} }

type discard struct{}

func (discard) Info(string)                   {}
func (discard) Success(string)                {}
func (discard) Warn(string)                   {}
func (discard) Error(string)                  {}
func (discard) StartProgress(string) Progress { return discardProgress{} }

type discardProgress struct{}

func (discardProgress) Stop(bool) {}

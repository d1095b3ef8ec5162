package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when a question cannot be asked because
// stdin is not a terminal.
var ErrNotInteractive = errors.New("stdin is not a terminal")

// Prompter asks the user questions.
type Prompter struct {
	In  io.Reader
	Out io.Writer
	// Interactive overrides terminal detection when non-nil.
	Interactive *bool
}

// Stdio returns a Prompter bound to the process's stdin and stdout.
func Stdio() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stdout}
}

func (p *Prompter) interactive() bool {
	if p.Interactive != nil {
		return *p.Interactive
	}
	f, ok := p.In.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Ask prints question and returns the trimmed answer line.
func (p *Prompter) Ask(question string) (string, error) {
	if !p.interactive() {
		return "", ErrNotInteractive
	}
	fmt.Fprint(p.Out, question)
	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks a yes/no question; only "y" or "yes" count as yes.
func (p *Prompter) Confirm(question string) (bool, error) {
	answer, err := p.Ask(question)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

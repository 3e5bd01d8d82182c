package handler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads operator input from the console.
type Prompter interface {
	Line(label string) (string, error)
	Secret(label string) (string, error)
	Confirm(label string) (bool, error)
}

// ConsolePrompter prompts on out and reads lines from in. Secrets are read
// without echo when in is a terminal.
type ConsolePrompter struct {
	in     *bufio.Reader
	out    io.Writer
	termFd int
}

func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	p := &ConsolePrompter{in: bufio.NewReader(in), out: out, termFd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.termFd = int(f.Fd())
	}
	return p
}

func (p *ConsolePrompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *ConsolePrompter) Secret(label string) (string, error) {
	if p.termFd < 0 {
		return p.Line(label)
	}
	fmt.Fprint(p.out, label)
	b, err := term.ReadPassword(p.termFd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Confirm accepts Y or y as yes; anything else is no.
func (p *ConsolePrompter) Confirm(label string) (bool, error) {
	answer, err := p.Line(label)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(answer), "y"), nil
}

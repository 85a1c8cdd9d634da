package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// prompter asks yes/no and free-text questions on the command's streams.
// With assumeYes set every question takes its default without reading input.
type prompter struct {
	in        *bufio.Reader
	out       io.Writer
	assumeYes bool
}

func newPrompter(in io.Reader, out io.Writer, assumeYes bool) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out, assumeYes: assumeYes}
}

// confirm returns def on an empty answer or at end of input.
func (p *prompter) confirm(question string, def bool) (bool, error) {
	if p.assumeYes {
		return def, nil
	}
	hint := "[y/N]"
	if def {
		hint = "[Y/n]"
	}
	for {
		answer, err := p.line(fmt.Sprintf("%s %s: ", question, hint))
		if err != nil {
			return false, err
		}
		switch strings.ToLower(answer) {
		case "":
			return def, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer y or n.")
	}
}

func (p *prompter) ask(question string) (string, error) {
	if p.assumeYes {
		return "", nil
	}
	return p.line(question + ": ")
}

func (p *prompter) line(prompt string) (string, error) {
	if _, err := fmt.Fprint(p.out, prompt); err != nil {
		return "", err
	}
	s, err := p.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(p.out)
			return strings.TrimSpace(s), nil
		}
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// secret reads without echo when stdin is a terminal and falls back to a
// plain line otherwise, so tokens can be piped in.
func (p *prompter) secret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return p.line(prompt)
	}
	fmt.Fprint(p.out, prompt)
	b, err := readPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

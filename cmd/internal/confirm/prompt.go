package confirm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoTerminal is returned when confirmation is required but stdin is not a
// terminal.
var ErrNoTerminal = errors.New("confirmation required and no terminal available")

// Prompter asks the operator yes/no questions. An explicit assume-yes from the
// environment or config bypasses the prompt.
type Prompter struct {
	envVar    string
	assumeYes bool
	in        *os.File
	out       io.Writer
}

// NewPrompter constructs a prompter reading from stdin and writing to stderr.
// When envVar is set to a true value every question is answered yes.
func NewPrompter(envVar string, assumeYes bool) *Prompter {
	return &Prompter{envVar: strings.TrimSpace(envVar), assumeYes: assumeYes, in: os.Stdin, out: os.Stderr}
}

// Confirm prints question followed by " [y/N] " and reports whether the
// operator answered yes. Anything other than y or yes is a no.
func (p *Prompter) Confirm(question string) (bool, error) {
	if p.assumeYes || p.envAssumesYes() {
		return true, nil
	}
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		if p.envVar != "" {
			return false, fmt.Errorf("%w; set %s=1 to confirm non-interactively", ErrNoTerminal, p.envVar)
		}
		return false, ErrNoTerminal
	}

	fmt.Fprintf(p.out, "%s [y/N] ", question)
	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	return IsYes(line), nil
}

func (p *Prompter) envAssumesYes() bool {
	if p.envVar == "" {
		return false
	}
	return IsYes(os.Getenv(p.envVar)) || strings.TrimSpace(os.Getenv(p.envVar)) == "1"
}

// IsYes reports whether answer is an affirmative reply.
func IsYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "true":
		return true
	default:
		return false
	}
}

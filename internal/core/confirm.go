package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/mattn/go-isatty"
)

// ErrRejected is returned when the operator does not confirm a deployment.
var ErrRejected = errors.New("deployment cancelled")

type Confirmer interface {
	Confirm(question string) (bool, error)
}

// IsAffirmative accepts "y" or "yes" in any case, ignoring surrounding blanks.
func IsAffirmative(answer string) bool {
	a := strings.TrimSpace(answer)
	return strings.EqualFold(a, "y") || strings.EqualFold(a, "yes")
}

// NewConfirmer prompts interactively on a terminal and reads a plain line
// otherwise, so answers can be piped in.
func NewConfirmer(in *os.File, out *os.File) Confirmer {
	if isatty.IsTerminal(in.Fd()) || isatty.IsCygwinTerminal(in.Fd()) {
		return &PromptConfirmer{In: in, Out: out}
	}
	return &LineConfirmer{In: in, Out: out}
}

type PromptConfirmer struct {
	In  io.ReadCloser
	Out io.WriteCloser
}

func (c *PromptConfirmer) Confirm(question string) (bool, error) {
	prompt := promptui.Prompt{
		Label:  question + " [y/N]",
		Stdin:  c.In,
		Stdout: c.Out,
	}
	answer, err := prompt.Run()
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) || errors.Is(err, promptui.ErrAbort) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("prompt: %w", err)
	}
	return IsAffirmative(answer), nil
}

type LineConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (c *LineConfirmer) Confirm(question string) (bool, error) {
	if _, err := fmt.Fprintf(c.Out, "%s [y/N]: ", question); err != nil {
		return false, err
	}
	line, err := bufio.NewReader(c.In).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read answer: %w", err)
	}
	return IsAffirmative(line), nil
}

// AlwaysConfirm answers yes without asking.
type AlwaysConfirm struct{}

func (AlwaysConfirm) Confirm(string) (bool, error) { return true, nil }

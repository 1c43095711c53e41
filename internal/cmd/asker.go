package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// promptAsker asks the user on a terminal. When input is not interactive
// every question is answered with an empty string.
type promptAsker struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

func newPromptAsker(in io.Reader, out io.Writer) *promptAsker {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &promptAsker{in: bufio.NewReader(in), out: out, interactive: interactive}
}

// Ask implements tools.Asker.
func (a *promptAsker) Ask(ctx context.Context, question string) (string, error) {
	if !a.interactive {
		return "", nil
	}
	fmt.Fprintf(a.out, "\n? %s\n> ", question)

	type reply struct {
		line string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		line, err := a.in.ReadString('\n')
		ch <- reply{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.err != nil && r.err != io.EOF {
			return "", fmt.Errorf("read answer: %w", r.err)
		}
		return strings.TrimSpace(r.line), nil
	}
}

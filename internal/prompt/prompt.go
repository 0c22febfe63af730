// Package prompt reads passwords and plain answers from the terminal.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Terminal prompts on out and reads answers from in. Password input is
// masked when in is a terminal.
type Terminal struct {
	mu     sync.Mutex
	in     io.Reader
	fd     int
	tty    bool
	reader *bufio.Reader
	out    io.Writer

	readPassword func(fd int) ([]byte, error)
	getState     func(fd int) (*term.State, error)
	restore      func(fd int, state *term.State) error
}

// NewTerminal prompts on stderr and reads stdin.
func NewTerminal() *Terminal {
	return New(os.Stdin, os.Stderr)
}

// New creates a prompter over arbitrary streams.
func New(in io.Reader, out io.Writer) *Terminal {
	t := &Terminal{
		in:           in,
		out:          out,
		fd:           -1,
		reader:       bufio.NewReader(in),
		readPassword: term.ReadPassword,
		getState:     term.GetState,
		restore:      term.Restore,
	}
	if f, ok := in.(*os.File); ok {
		t.fd = int(f.Fd())
		t.tty = term.IsTerminal(t.fd)
	}
	return t
}

// Password shows message and reads a line without echo. If ctx is
// cancelled mid-read the terminal state saved beforehand is restored, so
// echo is not left off.
func (t *Terminal) Password(ctx context.Context, message string) (string, error) {
	if !t.tty {
		return t.Line(ctx, message)
	}

	state, err := t.getState(t.fd)
	if err != nil {
		return "", fmt.Errorf("failed to read terminal state: %w", err)
	}
	value, err := t.read(ctx, message, func() (string, error) {
		b, err := t.readPassword(t.fd)
		_, _ = fmt.Fprintln(t.out)
		return string(b), err
	})
	if ctx.Err() != nil {
		_ = t.restore(t.fd, state)
		_, _ = fmt.Fprintln(t.out)
	}
	return value, err
}

// Line shows message and reads one line with echo.
func (t *Terminal) Line(ctx context.Context, message string) (string, error) {
	return t.read(ctx, message, func() (string, error) {
		line, err := t.reader.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		return strings.TrimRight(line, "\r\n"), err
	})
}

func (t *Terminal) read(ctx context.Context, message string, fn func() (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	type answer struct {
		value string
		err   error
	}
	done := make(chan answer, 1)

	go func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		_, _ = fmt.Fprint(t.out, message)
		value, err := fn()
		done <- answer{value, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-done:
		return a.value, a.err
	}
}

package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/term"
)

func TestTerminal_Line(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p := New(strings.NewReader("me@example.com\r\nsecond\nlast"), &out)
	assert.False(t, p.tty)

	first, err := p.Line(context.Background(), "Email: ")
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", first)

	second, err := p.Password(context.Background(), "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "second", second, "non-tty input is read as a plain line")

	last, err := p.Line(context.Background(), "Again: ")
	require.NoError(t, err)
	assert.Equal(t, "last", last)

	_, err = p.Line(context.Background(), "Gone: ")
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, "Email: Password: Again: Gone: ", out.String())
}

func TestTerminal_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err := New(strings.NewReader("x\n"), &out).Line(ctx, "prompt: ")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}

func TestTerminal_CancelWhileWaiting(t *testing.T) {
	t.Parallel()

	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := New(r, io.Discard)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Password(ctx, "Password: ")
		errCh <- err
	}()
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func fakeTTY(read func(fd int) ([]byte, error)) (*Terminal, *[]*term.State) {
	var restored []*term.State
	p := New(strings.NewReader(""), io.Discard)
	p.tty = true
	p.readPassword = read
	p.getState = func(int) (*term.State, error) { return &term.State{}, nil }
	p.restore = func(_ int, state *term.State) error {
		restored = append(restored, state)
		return nil
	}
	return p, &restored
}

func TestTerminal_PasswordMasked(t *testing.T) {
	t.Parallel()

	p, restored := fakeTTY(func(int) ([]byte, error) { return []byte("hunter2"), nil })

	got, err := p.Password(context.Background(), "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
	assert.Empty(t, *restored)
}

func TestTerminal_PasswordRestoresEchoOnCancel(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	p, restored := fakeTTY(func(int) ([]byte, error) {
		close(started)
		<-release
		return nil, io.EOF
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.Password(ctx, "Password: ")
		errCh <- err
	}()
	<-started
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Len(t, *restored, 1)
}

func TestTerminal_PasswordWithoutTerminalState(t *testing.T) {
	t.Parallel()

	p, _ := fakeTTY(func(int) ([]byte, error) { return []byte("x"), nil })
	p.getState = func(int) (*term.State, error) { return nil, errors.New("inappropriate ioctl for device") }

	_, err := p.Password(context.Background(), "Password: ")
	assert.ErrorContains(t, err, "terminal state")
}

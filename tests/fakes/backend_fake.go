package fakes

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/punlock/pkg/vault"
)

// LoginStep is one scripted outcome of FakeBackend.Login.
type LoginStep struct {
	Result vault.LoginResult
	Err    error
}

// Accept scripts a successful login returning token.
func Accept(token string) LoginStep {
	return LoginStep{Result: vault.LoginResult{Token: token}}
}

// AcceptUntil scripts a successful login with an expiry.
func AcceptUntil(token string, expiresAt time.Time) LoginStep {
	return LoginStep{Result: vault.LoginResult{Token: token, ExpiresAt: expiresAt}}
}

// Reject scripts a rejected login.
func Reject(message string) LoginStep {
	return LoginStep{Err: &vault.AuthError{Backend: "fake", Message: message}}
}

// LoginCall records the arguments of one Login call.
type LoginCall struct {
	Identity   string
	Credential string
}

// FakeBackend is an in-memory vault.Backend.
type FakeBackend struct {
	mu sync.Mutex

	name string
	mode vault.CredentialMode

	logins []LoginStep
	items  map[string][]byte
	errs   map[string]error
	delay  time.Duration

	InvalidateErr error
	EndpointErr   error
	RevokeErr     error

	Invalidations int
	Endpoints     []string
	LoginCalls    []LoginCall
	ItemCalls     []string
	Revoked       []string
	Tokens        []string
}

// NewFakeBackend creates a prompted backend with no scripted logins. An
// unscripted login succeeds with token "fake-token".
func NewFakeBackend(name string) *FakeBackend {
	return &FakeBackend{
		name:  name,
		mode:  vault.CredentialPrompted,
		items: make(map[string][]byte),
		errs:  make(map[string]error),
	}
}

// WithMode sets the credential mode.
func (f *FakeBackend) WithMode(mode vault.CredentialMode) *FakeBackend {
	f.mode = mode
	return f
}

// WithLogins scripts Login outcomes in order; the last one repeats.
func (f *FakeBackend) WithLogins(steps ...LoginStep) *FakeBackend {
	f.logins = steps
	return f
}

// WithItem stores a raw item document.
func (f *FakeBackend) WithItem(id, document string) *FakeBackend {
	f.items[id] = []byte(document)
	return f
}

// WithItemError makes GetItem fail for id.
func (f *FakeBackend) WithItemError(id string, err error) *FakeBackend {
	f.errs[id] = err
	return f
}

// WithDelay makes GetItem block for d, or until the context ends.
func (f *FakeBackend) WithDelay(d time.Duration) *FakeBackend {
	f.delay = d
	return f
}

func (f *FakeBackend) Name() string { return f.name }

func (f *FakeBackend) CredentialMode() vault.CredentialMode { return f.mode }

func (f *FakeBackend) Invalidate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Invalidations++
	return f.InvalidateErr
}

func (f *FakeBackend) SetEndpoint(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Endpoints = append(f.Endpoints, endpoint)
	return f.EndpointErr
}

func (f *FakeBackend) Login(ctx context.Context, identity, credential string) (vault.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.LoginCalls = append(f.LoginCalls, LoginCall{Identity: identity, Credential: credential})
	if len(f.logins) == 0 {
		return vault.LoginResult{Token: "fake-token"}, nil
	}
	step := f.logins[0]
	if len(f.logins) > 1 {
		f.logins = f.logins[1:]
	}
	return step.Result, step.Err
}

func (f *FakeBackend) GetItem(ctx context.Context, token, id string) ([]byte, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, &vault.TransportError{Backend: f.name, Op: "get item", Err: ctx.Err()}
		case <-time.After(f.delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.ItemCalls = append(f.ItemCalls, id)
	f.Tokens = append(f.Tokens, token)
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	body, ok := f.items[id]
	if !ok {
		return nil, &vault.FetchError{ID: id, Message: "Not found."}
	}
	return body, nil
}

func (f *FakeBackend) Revoke(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Revoked = append(f.Revoked, token)
	return f.RevokeErr
}

// LoginCount returns the number of Login calls so far.
func (f *FakeBackend) LoginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.LoginCalls)
}

// FakePrompter returns scripted answers to Password, in order. Once the
// script is exhausted it returns ErrNoMoreAnswers.
type FakePrompter struct {
	mu       sync.Mutex
	answers  []string
	Messages []string
}

// ErrNoMoreAnswers is returned once a FakePrompter's script runs out.
var ErrNoMoreAnswers = errors.New("fake prompter: no more answers")

// NewFakePrompter creates a prompter answering with answers in order.
func NewFakePrompter(answers ...string) *FakePrompter {
	return &FakePrompter{answers: answers}
}

func (p *FakePrompter) next(message string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Messages = append(p.Messages, message)
	if len(p.answers) == 0 {
		return "", ErrNoMoreAnswers
	}
	answer := p.answers[0]
	p.answers = p.answers[1:]
	return answer, nil
}

// Password implements vault.Prompter.
func (p *FakePrompter) Password(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.next(message)
}

// Line answers a plain (unmasked) prompt from the same script.
func (p *FakePrompter) Line(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.next(message)
}

// Asked returns how many prompts were shown.
func (p *FakePrompter) Asked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Messages)
}

// String implements fmt.Stringer without exposing answers.
func (p *FakePrompter) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("FakePrompter(%d remaining)", len(p.answers))
}

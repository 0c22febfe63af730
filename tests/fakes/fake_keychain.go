package fakes

import (
	"errors"
	"sync"

	"github.com/zalando/go-keyring"
)

// FakeKeyring is an in-memory OS keyring.
type FakeKeyring struct {
	mu sync.Mutex

	// Secrets is a map of service -> account -> value
	Secrets map[string]map[string]string

	// GetErr is returned by Get if set (overrides Secrets lookup)
	GetErr error

	// SetErr is returned by Set if set
	SetErr error

	Sets    int
	Deletes int
}

// NewFakeKeyring creates an empty keyring.
func NewFakeKeyring() *FakeKeyring {
	return &FakeKeyring{Secrets: make(map[string]map[string]string)}
}

// Get returns keyring.ErrNotFound for missing items, like the real backends.
func (f *FakeKeyring) Get(service, account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.GetErr != nil {
		return "", f.GetErr
	}
	if value, ok := f.Secrets[service][account]; ok {
		return value, nil
	}
	return "", keyring.ErrNotFound
}

func (f *FakeKeyring) Set(service, account, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Sets++
	if f.SetErr != nil {
		return f.SetErr
	}
	if f.Secrets[service] == nil {
		f.Secrets[service] = make(map[string]string)
	}
	f.Secrets[service][account] = value
	return nil
}

func (f *FakeKeyring) Delete(service, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Deletes++
	if _, ok := f.Secrets[service][account]; !ok {
		return keyring.ErrNotFound
	}
	delete(f.Secrets[service], account)
	return nil
}

// ErrKeyringLocked mimics a keyring daemon refusing access.
var ErrKeyringLocked = errors.New("keyring is locked")

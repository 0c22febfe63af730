package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned by Use after Destroy.
var ErrDestroyed = errors.New("secure: secret already destroyed")

// Secret is an encrypted in-memory secret.
type Secret struct {
	mu        sync.Mutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// Seal moves data into an enclave. data is wiped.
func Seal(data []byte) *Secret {
	s := &Secret{size: len(data)}
	if len(data) > 0 {
		// NewEnclave returns nil for empty input, which Use treats as empty.
		s.enclave = memguard.NewEnclave(data)
	}
	return s
}

// SealString copies value into an enclave. The string itself cannot be
// wiped; callers should drop their reference promptly.
func SealString(value string) *Secret {
	return Seal([]byte(value))
}

// Size is the plaintext length in bytes.
func (s *Secret) Size() int {
	return s.size
}

// Use decrypts the secret into locked memory, passes it to fn and wipes it
// when fn returns. fn must not retain the slice.
func (s *Secret) Use(fn func(plaintext []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrDestroyed
	}
	if s.enclave == nil {
		return fn([]byte{})
	}

	locked, err := s.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Destroy drops the enclave. Idempotent.
func (s *Secret) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enclave = nil
	s.destroyed = true
}

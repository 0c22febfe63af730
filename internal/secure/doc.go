// Package secure keeps fetched secrets out of ordinary Go memory between
// the moment they are resolved and the moment they are written to the store.
//
// A Secret wraps a memguard enclave: the plaintext is encrypted at rest
// (XSalsa20Poly1305) and only decrypted into an mlocked, guard-paged buffer
// for the duration of a Use callback, then wiped.
//
//	sealed := secure.SealString(value)
//	defer sealed.Destroy()
//
//	err := sealed.Use(func(plaintext []byte) error {
//	    return writeFile(path, plaintext)
//	})
//
// # Platform Behavior
//
// Memory locking needs RLIMIT_MEMLOCK headroom on Linux. memguard degrades
// to ordinary memory when mlock fails.
//
// It does NOT protect against:
//
//   - Attackers with root access to the running process
//   - Hardware-level attacks (cold boot, DMA)
//   - The string returned by the backend, which Go may already have copied
package secure

// Package credential scopes raw login material to a single callback.
//
// This is the only package that legitimately holds raw password bytes; every
// other component receives opaque handles or enum outcomes. The bytes are
// zeroed on every exit path, including error and panic.
package credential

import "sync"

// Vault grants scoped access to user credentials for a connection attempt.
type Vault struct {
	mu      sync.Mutex
	release func(loginID, password []byte)
}

// NewVault creates a vault with no release hook.
func NewVault() *Vault {
	return &Vault{}
}

// SetReleaseHook installs fn to be called after the credential buffers have
// been zeroed. Tests use it to verify the zeroing guarantee.
func (v *Vault) SetReleaseHook(fn func(loginID, password []byte)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.release = fn
}

// WithCredentials copies the login material into transient buffers, runs
// body with them, and zeroes the buffers before returning regardless of
// whether body succeeded, failed, or panicked.
func (v *Vault) WithCredentials(loginID, password string, body func(loginID, password []byte) error) error {
	loginBuf := []byte(loginID)
	passwordBuf := []byte(password)

	defer func() {
		zero(loginBuf)
		zero(passwordBuf)
		v.mu.Lock()
		release := v.release
		v.mu.Unlock()
		if release != nil {
			release(loginBuf, passwordBuf)
		}
	}()

	return body(loginBuf, passwordBuf)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

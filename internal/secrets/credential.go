package secrets

import (
	"runtime"
	"sync"
)

// Credential holds a secret value (an API key, a bearer token) in memory for
// exactly as long as it's needed. It never prints its contents: String and
// GoString return a fixed placeholder so a stray %v/%+v in a log line or an
// error wrap can't leak it, and its buffer is zeroed once the holder is done
// with it, either explicitly via Close or when it's collected.
type Credential struct {
	mu    sync.Mutex
	value []byte
}

// NewCredential wraps plain into a Credential. It takes ownership of the
// slice; callers should not retain or mutate it afterward.
func NewCredential(plain []byte) *Credential {
	c := &Credential{value: plain}
	runtime.SetFinalizer(c, (*Credential).Close)
	return c
}

// NewCredentialString is a convenience for the common case of wrapping a
// string secret loaded from an env var or config field.
func NewCredentialString(plain string) *Credential {
	return NewCredential([]byte(plain))
}

// String satisfies fmt.Stringer so %v/%s never render the secret.
func (c *Credential) String() string {
	return "[REDACTED]"
}

// GoString satisfies fmt.GoStringer so %#v never renders the secret.
func (c *Credential) GoString() string {
	return "[REDACTED]"
}

// Reveal returns the plaintext bytes for one-time use (e.g. building an
// Authorization header). Callers must not retain the returned slice past the
// call it's used in.
func (c *Credential) Reveal() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// IsEmpty reports whether the credential has already been closed or was
// constructed with no value.
func (c *Credential) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.value) == 0
}

// Close zeroes the underlying buffer. Safe to call more than once and safe
// to call on a nil receiver.
func (c *Credential) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.value {
		c.value[i] = 0
	}
	c.value = nil
	runtime.SetFinalizer(c, nil)
	return nil
}

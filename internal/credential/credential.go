// Package credential supplies the bearer token presented to the gateway.
// Providers are consulted on every connect attempt, so a refreshed token is
// picked up without restarting the session.
package credential

import (
	"os"
	"strings"
	"sync"
)

// Provider yields the current bearer token. ok is false when no credential
// is available.
type Provider interface {
	Current() (token string, ok bool)
}

// Static is a fixed token.
type Static string

func (s Static) Current() (string, bool) {
	token := strings.TrimSpace(string(s))
	return token, token != ""
}

// File reads the token from a file each time it is asked. A missing or
// empty file means no credential.
type File struct {
	Path string

	mu      sync.Mutex
	lastErr error
}

func NewFile(path string) *File {
	return &File{Path: path}
}

func (f *File) Current() (string, bool) {
	data, err := os.ReadFile(f.Path)
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
	if err != nil {
		return "", false
	}
	token := strings.TrimSpace(string(data))
	return token, token != ""
}

// Err returns the error from the most recent read, if any.
func (f *File) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Chain returns the first credential any of its providers has.
type Chain []Provider

func (c Chain) Current() (string, bool) {
	for _, p := range c {
		if p == nil {
			continue
		}
		if token, ok := p.Current(); ok {
			return token, true
		}
	}
	return "", false
}

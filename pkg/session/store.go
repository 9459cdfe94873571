// Package session holds the logged-in operator's first-party token and
// notifies listeners when it changes.
package session

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	gwerrors "github.com/ananta888/hubgate/pkg/errors"
)

// Store is an injectable, last-writer-wins holder for the session token.
type Store struct {
	mu          sync.RWMutex
	token       string
	subscribers map[chan string]struct{}
}

// NewStore returns a store seeded with token (may be empty).
func NewStore(token string) *Store {
	return &Store{
		token:       strings.TrimSpace(token),
		subscribers: make(map[chan string]struct{}),
	}
}

// Token returns the current session token, or "" when logged out.
func (s *Store) Token() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SetToken replaces the token and notifies subscribers when it changed. It
// is a no-op on a nil store.
func (s *Store) SetToken(token string) {
	if s == nil {
		return
	}
	token = strings.TrimSpace(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == s.token {
		return
	}
	s.token = token
	for ch := range s.subscribers {
		// Keep only the newest value for slow subscribers.
		select {
		case <-ch:
		default:
		}
		ch <- token
	}
}

// Clear logs the operator out.
func (s *Store) Clear() { s.SetToken("") }

// Subscribe returns a channel receiving every subsequent token value and a
// cleanup func. Slow readers observe only the latest value.
func (s *Store) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 1)
	if s == nil {
		close(ch)
		return ch, func() {}
	}
	s.mu.Lock()
	if s.subscribers == nil {
		s.subscribers = make(map[chan string]struct{})
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// LoadTokenFile reads a token persisted by SaveTokenFile. A missing file is
// not an error and yields "".
func LoadTokenFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", gwerrors.Wrap(err, gwerrors.ErrCodeConfigLoad, "read session token").WithContext("path", path)
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveTokenFile persists token with owner-only permissions. An empty token
// removes the file.
func SaveTokenFile(path, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return gwerrors.Wrap(err, gwerrors.ErrCodeInternal, "remove session token").WithContext("path", path)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeInternal, "create session dir").WithContext("path", path)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return gwerrors.Wrap(err, gwerrors.ErrCodeInternal, "write session token").WithContext("path", path)
	}
	return nil
}

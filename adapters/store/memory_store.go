package store

import (
	"context"
	"sync"
	"time"

	"github.com/lumen-market/caravel/core"
	"github.com/lumen-market/caravel/ports"
)

type cachedToken struct {
	token     string
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of the TokenStore interface
type MemoryStore struct {
	tokens map[string]cachedToken
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.TokenStore {
	return &MemoryStore{
		tokens: make(map[string]cachedToken),
	}
}

// PutToken caches a session token for an account
func (s *MemoryStore) PutToken(ctx context.Context, account, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := cachedToken{token: token}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.tokens[account] = entry

	if ttl > 0 {
		expiry := entry.expiresAt
		go func() {
			time.Sleep(ttl)

			s.mu.Lock()
			defer s.mu.Unlock()

			// Only delete if the entry hasn't been replaced since
			if stored, exists := s.tokens[account]; exists && !stored.expiresAt.After(expiry) {
				delete(s.tokens, account)
			}
		}()
	}

	return nil
}

// GetToken returns the cached token for an account, or ErrUnauthorized when
// no live token exists
func (s *MemoryStore) GetToken(ctx context.Context, account string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.tokens[account]
	if !exists {
		return "", core.ErrUnauthorized
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return "", core.ErrUnauthorized
	}

	return entry.token, nil
}

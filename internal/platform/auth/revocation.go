package auth

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RefreshRevoker tracks refresh tokens revoked one at a time by logout.
// Password changes need no entry here: they rotate the credential stamp
// that every refresh token carries.
type RefreshRevoker interface {
	Revoke(ctx context.Context, jti, userID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, claims *Claims) (bool, error)
}

type revocationEntry struct {
	ExpiresAt time.Time
	UserID    string
}

// TokenRevocationStore keeps revoked refresh-token ids in memory. Entries are dropped once the token they cover would have
// expired anyway. Safe for concurrent use; single-process only.
type TokenRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]revocationEntry // jti -> entry
	clock   clock.Clock
	done    chan struct{}
}

// NewTokenRevocationStore creates a store and starts a goroutine that purges
// expired entries every 5 minutes.
func NewTokenRevocationStore(clk clock.Clock) *TokenRevocationStore {
	if clk == nil {
		clk = clock.New()
	}
	s := &TokenRevocationStore{
		entries: make(map[string]revocationEntry),
		clock:   clk,
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Revoke adds a token id to the revocation list until expiresAt.
func (s *TokenRevocationStore) Revoke(_ context.Context, jti, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[jti] = revocationEntry{ExpiresAt: expiresAt, UserID: userID}
	return nil
}

func (s *TokenRevocationStore) IsRevoked(_ context.Context, claims *Claims) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[claims.ID]
	return ok, nil
}

// Count returns the number of revoked token ids currently tracked.
func (s *TokenRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (s *TokenRevocationStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *TokenRevocationStore) cleanupLoop() {
	ticker := s.clock.Ticker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *TokenRevocationStore) cleanup() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, jti)
		}
	}
}

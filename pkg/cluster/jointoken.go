package cluster

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// JoinTokenManager issues and validates the short-lived tokens a new node
// presents to /cluster/join. This is a distinct concern from the RBAC
// tokens in pkg/rbac: join tokens gate cluster membership, not per-request
// data-plane permissions, and are never written to the replicated log.
type JoinTokenManager struct {
	tokens map[string]*JoinToken
	mu     sync.RWMutex
}

// JoinToken is a single admission credential for cluster membership.
type JoinToken struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewJoinTokenManager returns an empty manager.
func NewJoinTokenManager() *JoinTokenManager {
	return &JoinTokenManager{tokens: make(map[string]*JoinToken)}
}

// Generate mints a new random token valid for duration.
func (tm *JoinTokenManager) Generate(duration time.Duration) (*JoinToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generate join token: %w", err)
	}
	jt := &JoinToken{
		Token:     hex.EncodeToString(raw),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(duration),
	}
	tm.mu.Lock()
	tm.tokens[jt.Token] = jt
	tm.mu.Unlock()
	return jt, nil
}

// Validate checks a token is known and unexpired.
func (tm *JoinTokenManager) Validate(token string) error {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	jt, ok := tm.tokens[token]
	if !ok {
		return fmt.Errorf("invalid join token")
	}
	if time.Now().After(jt.ExpiresAt) {
		return fmt.Errorf("join token expired")
	}
	return nil
}

// Revoke removes a token immediately.
func (tm *JoinTokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired drops every token past its expiry.
func (tm *JoinTokenManager) CleanupExpired() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := time.Now()
	for token, jt := range tm.tokens {
		if now.After(jt.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}

package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxSessionTokens caps the live sessions per identity; adding beyond
	// the cap evicts the oldest entry.
	MaxSessionTokens = 5
	// SessionTokenTTL is the registry lifetime of an entry, independent of
	// the JWT expiry claim.
	SessionTokenTTL = 7 * 24 * time.Hour
)

// SessionToken is one registry entry: the issued bearer token plus the
// device/IP metadata captured at login.
type SessionToken struct {
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Device    string    `json:"device,omitempty"`
	IP        string    `json:"ip,omitempty"`
}

// Expired reports whether the registry entry is past its lifetime.
func (s SessionToken) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// NewSessionToken builds a registry entry for a freshly minted token.
func NewSessionToken(token string, now time.Time, device, ip string) SessionToken {
	return SessionToken{
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTokenTTL),
		Device:    device,
		IP:        ip,
	}
}

// SessionRegistry tracks which bearer tokens are live for an identity.
// Logout removes a single entry; Clear invalidates every session at once.
type SessionRegistry interface {
	Add(ctx context.Context, identityID uuid.UUID, session SessionToken) error
	Contains(ctx context.Context, identityID uuid.UUID, token string) (bool, error)
	Remove(ctx context.Context, identityID uuid.UUID, token string) error
	Clear(ctx context.Context, identityID uuid.UUID) error
}

// PushSessionToken appends a session to the list, evicting the oldest
// entries past MaxSessionTokens. The list stays ordered oldest first.
func PushSessionToken(sessions []SessionToken, session SessionToken) []SessionToken {
	sessions = append(sessions, session)
	if len(sessions) > MaxSessionTokens {
		sessions = sessions[len(sessions)-MaxSessionTokens:]
	}
	return sessions
}

// ContainsSessionToken reports whether token has a live, unexpired entry.
func ContainsSessionToken(sessions []SessionToken, token string, now time.Time) bool {
	for _, s := range sessions {
		if tokenMatches(s.Token, token) && !s.Expired(now) {
			return true
		}
	}
	return false
}

// RemoveSessionToken drops the entry for token, reporting whether one was
// present.
func RemoveSessionToken(sessions []SessionToken, token string) ([]SessionToken, bool) {
	for i, s := range sessions {
		if tokenMatches(s.Token, token) {
			return append(sessions[:i:i], sessions[i+1:]...), true
		}
	}
	return sessions, false
}

// PruneSessionTokens drops expired entries.
func PruneSessionTokens(sessions []SessionToken, now time.Time) []SessionToken {
	kept := sessions[:0:0]
	for _, s := range sessions {
		if !s.Expired(now) {
			kept = append(kept, s)
		}
	}
	return kept
}

func tokenMatches(stored, presented string) bool {
	a := sha256.Sum256([]byte(stored))
	b := sha256.Sum256([]byte(presented))
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// MemorySessionRegistry is a process-local SessionRegistry, used by tests
// and by hosts that keep sessions out of the identity store.
type MemorySessionRegistry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID][]SessionToken
	now      func() time.Time
}

// NewMemorySessionRegistry creates an empty in-memory registry.
func NewMemorySessionRegistry() *MemorySessionRegistry {
	return &MemorySessionRegistry{
		sessions: map[uuid.UUID][]SessionToken{},
		now:      time.Now,
	}
}

// WithClock replaces the registry clock, mostly for tests.
func (m *MemorySessionRegistry) WithClock(now func() time.Time) *MemorySessionRegistry {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *MemorySessionRegistry) Add(_ context.Context, identityID uuid.UUID, session SessionToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[identityID] = PushSessionToken(m.sessions[identityID], session)
	return nil
}

func (m *MemorySessionRegistry) Contains(_ context.Context, identityID uuid.UUID, token string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ContainsSessionToken(m.sessions[identityID], token, m.now()), nil
}

func (m *MemorySessionRegistry) Remove(_ context.Context, identityID uuid.UUID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining, _ := RemoveSessionToken(m.sessions[identityID], token)
	m.sessions[identityID] = remaining
	return nil
}

func (m *MemorySessionRegistry) Clear(_ context.Context, identityID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, identityID)
	return nil
}

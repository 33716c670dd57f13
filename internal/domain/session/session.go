// Package session owns the shared aggregator auth session.
package session

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"bankbridge/internal/infrastructure/aggregator"
	"bankbridge/internal/shared/fault"
)

// Session is the process-scoped auth state for the aggregator. The token is
// opaque and time-limited; it is never written to durable storage.
type Session struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// IsAuthenticated reports whether the session holds a token that has not
// expired as of now.
func (s *Session) IsAuthenticated(now time.Time) bool {
	return s != nil && s.Token != "" && now.Before(s.ExpiresAt)
}

// Manager is the single writer of the shared session. Catalog, orchestrator
// and registry read the token through it; only Authenticate and Logout
// mutate it, under the manager's lock, so two concurrent authenticate calls
// cannot race and leave an inconsistent expiry.
type Manager struct {
	client aggregator.ClientInterface

	mu      sync.Mutex
	current *Session
	now     func() time.Time
}

// NewManager creates a session manager with no active session.
func NewManager(client aggregator.ClientInterface) *Manager {
	return &Manager{
		client: client,
		now:    time.Now,
	}
}

// Authenticate obtains a fresh session token from the aggregator, clearing
// any prior token first. It does not retry; retry policy belongs to the
// caller.
func (m *Manager) Authenticate(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Drop the old token before hitting the endpoint so a failed re-auth
	// never leaves a half-valid session behind.
	m.current = nil

	resp, statusCode, err := m.client.AuthenticateWithStatus(ctx)
	if err != nil {
		switch {
		case statusCode == http.StatusUnauthorized:
			return Session{}, fault.Wrap(fault.Unauthorized, "aggregator rejected service credentials", err)
		case fault.IsTransportTimeout(err):
			return Session{}, fault.Wrap(fault.Timeout, "authentication did not complete in time", err)
		default:
			return Session{}, fault.Wrap(fault.NetworkUnavailable, "could not reach aggregator", err)
		}
	}

	expiresAt, err := resp.Data.GetExpiresAt()
	if err != nil || expiresAt == nil {
		return Session{}, fault.Wrap(fault.NetworkUnavailable, "aggregator returned an unusable session expiry", err)
	}

	issuedAt := m.now()
	if parsed, err := resp.Data.GetIssuedAt(); err == nil && parsed != nil {
		issuedAt = *parsed
	}

	m.current = &Session{
		Token:     resp.Data.Token,
		IssuedAt:  issuedAt,
		ExpiresAt: *expiresAt,
	}

	log.Printf("Session: authenticated, token valid until %s", expiresAt.Format(time.RFC3339))

	return *m.current, nil
}

// Token returns the current session token. It fails with Unauthenticated
// when the session is missing or expired; no network call is made.
func (m *Manager) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.current.IsAuthenticated(m.now()) {
		return "", fault.New(fault.Unauthenticated, "session missing or expired")
	}
	return m.current.Token, nil
}

// IsAuthenticated reports whether a non-expired session is present.
func (m *Manager) IsAuthenticated() bool {
	_, err := m.Token()
	return err == nil
}

// ExpiresIn returns the time remaining on the current session, or zero when
// no valid session is present.
func (m *Manager) ExpiresIn() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.current.IsAuthenticated(now) {
		return 0
	}
	return m.current.ExpiresAt.Sub(now)
}

// Logout discards the current session token.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}

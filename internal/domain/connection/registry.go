package connection

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"bankbridge/internal/domain/session"
	"bankbridge/internal/infrastructure/aggregator"
	"bankbridge/internal/shared/fault"
)

// Connection is an established link between a user account at an institution
// and the aggregator.
type Connection struct {
	ConnectionID   string
	InstitutionID  string
	EstablishedAt  time.Time
	LastSyncStatus string
}

// Registry holds the in-memory set of established connections for the
// authenticated user.
type Registry struct {
	client  aggregator.ClientInterface
	session *session.Manager

	mu          sync.RWMutex
	connections []Connection
}

// NewRegistry creates an empty registry.
func NewRegistry(client aggregator.ClientInterface, sessions *session.Manager) *Registry {
	return &Registry{
		client:  client,
		session: sessions,
	}
}

// Refresh reconciles the registry against the aggregator's authoritative
// connection list. The snapshot is replaced wholesale, so local entries for
// connections removed server-side are dropped. Calling it twice with no
// server-side change yields the same set.
func (r *Registry) Refresh(ctx context.Context) ([]Connection, error) {
	token, err := r.session.Token()
	if err != nil {
		return nil, err
	}

	resp, statusCode, err := r.client.ListConnectionsWithStatus(ctx, token)
	if err != nil {
		switch {
		case statusCode == http.StatusUnauthorized:
			return nil, fault.Wrap(fault.Unauthenticated, "session rejected by aggregator", err)
		case fault.IsTransportTimeout(err):
			return nil, fault.Wrap(fault.Timeout, "connection list fetch did not complete in time", err)
		default:
			return nil, fault.Wrap(fault.NetworkUnavailable, "could not fetch connections", err)
		}
	}

	fresh := make([]Connection, 0, len(resp.Data))
	for _, conn := range resp.Data {
		fresh = append(fresh, fromAPI(conn))
	}

	r.mu.Lock()
	r.connections = fresh
	r.mu.Unlock()

	log.Printf("Registry: reconciled %d connections", len(fresh))

	return r.List(), nil
}

// Add records a connection established by the orchestrator. An entry with
// the same connection id is replaced in place; later Refresh calls remain
// the authority.
func (r *Registry) Add(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.connections {
		if existing.ConnectionID == conn.ConnectionID {
			r.connections[i] = conn
			return
		}
	}
	r.connections = append(r.connections, conn)
}

// List returns the last reconciled snapshot without re-fetching.
func (r *Registry) List() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, len(r.connections))
	copy(out, r.connections)
	return out
}

func fromAPI(conn aggregator.ConnectionData) Connection {
	out := Connection{
		ConnectionID:   conn.ID,
		InstitutionID:  conn.InstitutionID,
		LastSyncStatus: conn.LastSyncStatus,
	}
	if created, err := conn.GetCreatedAt(); err == nil && created != nil {
		out.EstablishedAt = *created
	}
	return out
}

// Package catalog provides the searchable list of supported institutions.
package catalog

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"bankbridge/internal/domain/session"
	"bankbridge/internal/infrastructure/aggregator"
	"bankbridge/internal/shared/fault"
)

// InstitutionType classifies an institution.
type InstitutionType string

const (
	TypeBank        InstitutionType = "bank"
	TypeCreditUnion InstitutionType = "credit-union"
	TypeBrokerage   InstitutionType = "brokerage"
	TypeOther       InstitutionType = "other"
)

// Display hints used when the aggregator supplies none.
const (
	DefaultLoginIDCaption  = "Login ID"
	DefaultPasswordCaption = "Password"
)

// Institution is an immutable catalog entry. The catalog is replaced
// wholesale on refresh, never patched field-by-field.
type Institution struct {
	ID                  string
	Name                string
	ShortName           string
	Type                InstitutionType
	LoginIDCaption      string
	PasswordCaption     string
	SupportsOpenBanking bool
}

// Catalog caches the institution list fetched from the aggregator.
type Catalog struct {
	client  aggregator.ClientInterface
	session *session.Manager

	mu           sync.RWMutex
	institutions []Institution
	refreshedAt  time.Time
}

// New creates an empty catalog.
func New(client aggregator.ClientInterface, sessions *session.Manager) *Catalog {
	return &Catalog{
		client:  client,
		session: sessions,
	}
}

// Refresh fetches the institution list and atomically replaces the cached
// snapshot. It requires an unexpired session and fails with Unauthenticated
// before any network call when that is missing.
func (c *Catalog) Refresh(ctx context.Context) error {
	token, err := c.session.Token()
	if err != nil {
		return err
	}

	resp, statusCode, err := c.client.GetInstitutionsWithStatus(ctx, token)
	if err != nil {
		switch {
		case statusCode == http.StatusUnauthorized:
			// Token looked valid locally but the aggregator revoked it.
			return fault.Wrap(fault.Unauthenticated, "session rejected by aggregator", err)
		case fault.IsTransportTimeout(err):
			return fault.Wrap(fault.Timeout, "institution fetch did not complete in time", err)
		default:
			return fault.Wrap(fault.NetworkUnavailable, "could not fetch institutions", err)
		}
	}

	fresh := make([]Institution, 0, len(resp.Data))
	for _, inst := range resp.Data {
		fresh = append(fresh, fromAPI(inst))
	}

	c.mu.Lock()
	c.institutions = fresh
	c.refreshedAt = time.Now()
	c.mu.Unlock()

	log.Printf("Catalog: refreshed with %d institutions", len(fresh))

	return nil
}

// Institutions returns a copy of the current snapshot.
func (c *Catalog) Institutions() []Institution {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Institution, len(c.institutions))
	copy(out, c.institutions)
	return out
}

// Search returns institutions whose name or short name contains query,
// case-insensitively. An empty query returns the full catalog. Ordering is
// stable and matches catalog order; there is no relevance re-ranking.
func (c *Catalog) Search(query string) []Institution {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if query == "" {
		out := make([]Institution, len(c.institutions))
		copy(out, c.institutions)
		return out
	}

	needle := strings.ToLower(query)
	out := make([]Institution, 0)
	for _, inst := range c.institutions {
		if strings.Contains(strings.ToLower(inst.Name), needle) ||
			strings.Contains(strings.ToLower(inst.ShortName), needle) {
			out = append(out, inst)
		}
	}
	return out
}

// LastRefreshed returns when the snapshot was last replaced, zero when the
// catalog has never been fetched.
func (c *Catalog) LastRefreshed() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshedAt
}

func fromAPI(inst aggregator.Institution) Institution {
	out := Institution{
		ID:                  inst.ID,
		Name:                inst.Name,
		ShortName:           inst.ShortName,
		Type:                parseType(inst.Type),
		LoginIDCaption:      inst.LoginIDCaption,
		PasswordCaption:     inst.PasswordCaption,
		SupportsOpenBanking: inst.SupportsOpenBanking,
	}
	if out.LoginIDCaption == "" {
		out.LoginIDCaption = DefaultLoginIDCaption
	}
	if out.PasswordCaption == "" {
		out.PasswordCaption = DefaultPasswordCaption
	}
	return out
}

func parseType(apiType string) InstitutionType {
	switch strings.ToUpper(apiType) {
	case "BANK":
		return TypeBank
	case "CREDIT_UNION":
		return TypeCreditUnion
	case "BROKERAGE":
		return TypeBrokerage
	default:
		return TypeOther
	}
}

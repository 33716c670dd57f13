// Package connection drives the per-institution bank-connection state machine.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"bankbridge/internal/domain/catalog"
	"bankbridge/internal/domain/credential"
	"bankbridge/internal/domain/session"
	"bankbridge/internal/infrastructure/aggregator"
	"bankbridge/internal/shared/fault"
)

var (
	attemptTracer      = otel.Tracer("bankbridge/connection")
	attemptMeter       = otel.Meter("bankbridge/connection")
	attemptDuration, _ = attemptMeter.Float64Histogram("connection.attempt.duration", metric.WithDescription("Connection attempt duration in seconds"), metric.WithUnit("s"))
	attemptTotal, _    = attemptMeter.Int64Counter("connection.attempt.total", metric.WithDescription("Connection attempts by terminal status"))
)

// Credential precondition failures, reported before any network call is made.
var (
	ErrEmptyLoginID  = errors.New("login id is empty")
	ErrEmptyPassword = errors.New("password is empty")
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollBudget   = 60 * time.Second
)

// Config bounds the polling phase of an attempt.
type Config struct {
	PollInterval time.Duration
	PollBudget   time.Duration
}

// Orchestrator serializes connection attempts per institution and drives
// each one through submitting, polling and a terminal state. It never
// retries on its own; retrying a credential submission silently risks
// lockout at the aggregator, so retry is an explicit caller decision.
type Orchestrator struct {
	client   aggregator.ClientInterface
	session  *session.Manager
	catalog  *catalog.Catalog
	vault    *credential.Vault
	registry *Registry

	pollInterval time.Duration
	pollBudget   time.Duration

	mu       sync.Mutex
	phase    Status
	lastErr  error
	inFlight map[string]*Attempt // institution id -> active attempt
}

// NewOrchestrator creates an orchestrator in the idle phase.
func NewOrchestrator(client aggregator.ClientInterface, sessions *session.Manager, cat *catalog.Catalog, vault *credential.Vault, registry *Registry, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = defaultPollBudget
	}
	return &Orchestrator{
		client:       client,
		session:      sessions,
		catalog:      cat,
		vault:        vault,
		registry:     registry,
		pollInterval: cfg.PollInterval,
		pollBudget:   cfg.PollBudget,
		phase:        StatusIdle,
		inFlight:     make(map[string]*Attempt),
	}
}

// State returns the orchestrator phase preceding any attempt: idle,
// authenticating, ready, or error. Per-attempt progress is observed through
// the Attempt handle returned by Submit.
func (o *Orchestrator) State() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// LastError returns the failure that put the orchestrator in the error
// phase, nil otherwise.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// EnsureReady authenticates and loads the catalog as needed, moving the
// orchestrator to the ready phase. A failed run leaves it in the error
// phase; calling EnsureReady again starts over.
func (o *Orchestrator) EnsureReady(ctx context.Context) error {
	if !o.session.IsAuthenticated() {
		o.setPhase(StatusAuthenticating, nil)
		if _, err := o.session.Authenticate(ctx); err != nil {
			o.setPhase(StatusError, err)
			return err
		}
	}

	if o.catalog != nil && len(o.catalog.Institutions()) == 0 {
		if err := o.catalog.Refresh(ctx); err != nil {
			o.setPhase(StatusError, err)
			return err
		}
	}

	o.setPhase(StatusReady, nil)
	return nil
}

// Submit dispatches a connection attempt for an institution. Preconditions
// are checked before any network call: credentials must be non-empty after
// trimming, the session must be live, and no attempt may already be in
// flight for the institution (Conflict otherwise). The returned handle is
// the caller's window into the attempt; the raw aggregator response never
// reaches it.
func (o *Orchestrator) Submit(ctx context.Context, institutionID, loginID, password string) (*Attempt, error) {
	loginID = strings.TrimSpace(loginID)
	password = strings.TrimSpace(password)
	if loginID == "" {
		return nil, ErrEmptyLoginID
	}
	if password == "" {
		return nil, ErrEmptyPassword
	}

	token, err := o.session.Token()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if existing := o.inFlight[institutionID]; existing != nil {
		o.mu.Unlock()
		return nil, fault.New(fault.Conflict, fmt.Sprintf("attempt already in flight for institution %s", institutionID))
	}
	a := newAttempt(institutionID)
	o.inFlight[institutionID] = a
	o.mu.Unlock()

	log.Printf("Orchestrator: attempt %s started for institution %s", a.ID(), institutionID)

	go o.run(ctx, a, token, loginID, password)

	return a, nil
}

func (o *Orchestrator) setPhase(phase Status, err error) {
	o.mu.Lock()
	o.phase = phase
	o.lastErr = err
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, a *Attempt, token, loginID, password string) {
	start := time.Now()
	ctx, span := attemptTracer.Start(ctx, "connection.attempt", trace.WithAttributes(
		attribute.String("institution.id", a.InstitutionID()),
		attribute.String("attempt.id", a.ID()),
	))

	defer func() {
		o.mu.Lock()
		delete(o.inFlight, a.InstitutionID())
		o.mu.Unlock()

		snap := a.Snapshot()
		outcome := attribute.String("status", string(snap.Status))
		attemptDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(outcome))
		attemptTotal.Add(ctx, 1, metric.WithAttributes(outcome))
		if snap.Status == StatusError {
			span.SetStatus(codes.Error, snap.ErrorDetail)
		}
		span.End()

		log.Printf("Orchestrator: attempt %s for institution %s finished with status %s", a.ID(), a.InstitutionID(), snap.Status)
	}()

	a.setStatus(StatusSubmitting)

	var resp *aggregator.ConnectionResponse
	var statusCode int
	err := o.vault.WithCredentials(loginID, password, func(login, pass []byte) error {
		var submitErr error
		resp, statusCode, submitErr = o.client.CreateConnectionWithStatus(ctx, token, a.InstitutionID(), string(login), string(pass))
		return submitErr
	})
	if err != nil {
		switch {
		case statusCode == http.StatusUnauthorized:
			a.finishError(fault.InvalidCredentials, "institution rejected the supplied login")
		case errors.Is(ctx.Err(), context.Canceled):
			a.finishError("", "attempt cancelled before completion")
		case fault.IsTransportTimeout(err):
			a.finishError(fault.Timeout, "submission did not complete in time")
		default:
			a.finishError(fault.NetworkUnavailable, "could not reach aggregator")
		}
		return
	}

	a.setConnectionID(resp.Data.ID)
	if o.resolve(a, resp.Data) {
		return
	}

	a.setStatus(StatusPolling)
	o.poll(ctx, a, token)
}

// poll awaits the aggregator finalizing an accepted submission, bounded by
// the polling budget.
func (o *Orchestrator) poll(ctx context.Context, a *Attempt, token string) {
	deadline := time.Now().Add(o.pollBudget)
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				a.finishError(fault.Timeout, "connection not finalized in time")
			} else {
				a.finishError("", "attempt cancelled before completion")
			}
			return
		case <-ticker.C:
			if time.Now().After(deadline) {
				a.finishError(fault.Timeout, "connection not finalized within polling budget")
				return
			}

			resp, err := o.client.GetConnection(ctx, token, a.Snapshot().ConnectionID)
			if err != nil {
				switch {
				case errors.Is(ctx.Err(), context.Canceled):
					// Cancellation can surface through the request error
					// before the ctx.Done branch gets a turn.
					a.finishError("", "attempt cancelled before completion")
				case fault.IsTransportTimeout(err):
					a.finishError(fault.Timeout, "status poll did not complete in time")
				default:
					a.finishError(fault.NetworkUnavailable, "lost contact with aggregator while finalizing")
				}
				return
			}

			if o.resolve(a, resp.Data) {
				return
			}
		}
	}
}

// resolve applies an aggregator-reported connection state to the attempt.
// It returns true when the state was terminal.
func (o *Orchestrator) resolve(a *Attempt, data aggregator.ConnectionData) bool {
	switch data.Status {
	case aggregator.ConnectionStatusConnected:
		conn := Connection{
			ConnectionID:   data.ID,
			InstitutionID:  a.InstitutionID(),
			EstablishedAt:  time.Now(),
			LastSyncStatus: data.LastSyncStatus,
		}
		if created, err := data.GetCreatedAt(); err == nil && created != nil {
			conn.EstablishedAt = *created
		}
		o.registry.Add(conn)
		a.finishConnected(data.ID)
		return true
	case aggregator.ConnectionStatusLoginError:
		a.finishError(fault.InvalidCredentials, "institution rejected the supplied login")
		return true
	case aggregator.ConnectionStatusOutage:
		a.finishError(fault.NetworkUnavailable, "institution temporarily unavailable")
		return true
	default:
		// PENDING / UPDATING: still finalizing.
		return false
	}
}

package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankbridge/internal/domain/catalog"
	"bankbridge/internal/domain/credential"
	"bankbridge/internal/domain/session"
	"bankbridge/internal/infrastructure/aggregator"
	"bankbridge/internal/shared/fault"
)

// MockClient implements aggregator.ClientInterface
type MockClient struct {
	AuthenticateWithStatusFunc    func(ctx context.Context) (*aggregator.AuthResponse, int, error)
	GetInstitutionsWithStatusFunc func(ctx context.Context, token string) (*aggregator.InstitutionResponse, int, error)
	CreateConnectionFunc          func(ctx context.Context, token, institutionID, loginID, password string) (*aggregator.ConnectionResponse, int, error)
	GetConnectionFunc             func(ctx context.Context, token, connectionID string) (*aggregator.ConnectionResponse, error)
	ListConnectionsFunc           func(ctx context.Context, token string) (*aggregator.ConnectionListResponse, int, error)

	mu               sync.Mutex
	createCalls      int
	getCalls         int
	listCalls        int
	institutionCalls int
}

func (m *MockClient) Authenticate(ctx context.Context) (*aggregator.AuthResponse, error) {
	resp, _, err := m.AuthenticateWithStatus(ctx)
	return resp, err
}

func (m *MockClient) AuthenticateWithStatus(ctx context.Context) (*aggregator.AuthResponse, int, error) {
	if m.AuthenticateWithStatusFunc != nil {
		return m.AuthenticateWithStatusFunc(ctx)
	}
	now := time.Now()
	return &aggregator.AuthResponse{
		Success: true,
		Data: aggregator.AuthData{
			Token:           "token-1",
			IssuedAtString:  now.Format(time.RFC3339),
			ExpiresAtString: now.Add(time.Hour).Format(time.RFC3339),
		},
	}, http.StatusOK, nil
}

func (m *MockClient) GetInstitutionsWithStatus(ctx context.Context, token string) (*aggregator.InstitutionResponse, int, error) {
	m.count(&m.institutionCalls)
	if m.GetInstitutionsWithStatusFunc != nil {
		return m.GetInstitutionsWithStatusFunc(ctx, token)
	}
	return &aggregator.InstitutionResponse{
		Success: true,
		Data:    []aggregator.Institution{{ID: "bank-01", Name: "First National Bank", Type: "BANK"}},
		Count:   1,
	}, http.StatusOK, nil
}

func (m *MockClient) CreateConnectionWithStatus(ctx context.Context, token, institutionID, loginID, password string) (*aggregator.ConnectionResponse, int, error) {
	m.count(&m.createCalls)
	if m.CreateConnectionFunc != nil {
		return m.CreateConnectionFunc(ctx, token, institutionID, loginID, password)
	}
	return pendingConnection(institutionID), http.StatusCreated, nil
}

func (m *MockClient) GetConnection(ctx context.Context, token, connectionID string) (*aggregator.ConnectionResponse, error) {
	m.count(&m.getCalls)
	if m.GetConnectionFunc != nil {
		return m.GetConnectionFunc(ctx, token, connectionID)
	}
	return connectedConnection(connectionID), nil
}

func (m *MockClient) ListConnectionsWithStatus(ctx context.Context, token string) (*aggregator.ConnectionListResponse, int, error) {
	m.count(&m.listCalls)
	if m.ListConnectionsFunc != nil {
		return m.ListConnectionsFunc(ctx, token)
	}
	return &aggregator.ConnectionListResponse{Success: true}, http.StatusOK, nil
}

func (m *MockClient) count(field *int) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

func (m *MockClient) CreateCalls() int      { m.mu.Lock(); defer m.mu.Unlock(); return m.createCalls }
func (m *MockClient) GetCalls() int         { m.mu.Lock(); defer m.mu.Unlock(); return m.getCalls }
func (m *MockClient) ListCalls() int        { m.mu.Lock(); defer m.mu.Unlock(); return m.listCalls }
func (m *MockClient) InstitutionCalls() int { m.mu.Lock(); defer m.mu.Unlock(); return m.institutionCalls }

func pendingConnection(institutionID string) *aggregator.ConnectionResponse {
	return &aggregator.ConnectionResponse{
		Success: true,
		Data: aggregator.ConnectionData{
			ID:            "conn-1",
			InstitutionID: institutionID,
			Status:        aggregator.ConnectionStatusPending,
		},
	}
}

func connectedConnection(connectionID string) *aggregator.ConnectionResponse {
	return &aggregator.ConnectionResponse{
		Success: true,
		Data: aggregator.ConnectionData{
			ID:              connectionID,
			Status:          aggregator.ConnectionStatusConnected,
			LastSyncStatus:  "OK",
			CreatedAtString: time.Now().Format(time.RFC3339),
		},
	}
}

type testCore struct {
	mock         *MockClient
	session      *session.Manager
	vault        *credential.Vault
	registry     *Registry
	orchestrator *Orchestrator
}

func newTestCore(t *testing.T, mock *MockClient, authenticate bool) *testCore {
	t.Helper()

	sessions := session.NewManager(mock)
	if authenticate {
		_, err := sessions.Authenticate(context.Background())
		require.NoError(t, err)
	}

	vault := credential.NewVault()
	registry := NewRegistry(mock, sessions)
	orch := NewOrchestrator(mock, sessions, catalog.New(mock, sessions), vault, registry, Config{
		PollInterval: time.Millisecond,
		PollBudget:   time.Second,
	})

	return &testCore{
		mock:         mock,
		session:      sessions,
		vault:        vault,
		registry:     registry,
		orchestrator: orch,
	}
}

func waitDone(t *testing.T, a *Attempt) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("attempt did not reach a terminal state")
	}
}

func collectStatuses(a *Attempt) []Status {
	var out []Status
	for snap := range a.Updates() {
		out = append(out, snap.Status)
	}
	return out
}

func TestSubmitHappyPath(t *testing.T) {
	core := newTestCore(t, &MockClient{}, true)

	attempt, err := core.orchestrator.Submit(context.Background(), "bank-01", "user1", "pass1")
	require.NoError(t, err)

	waitDone(t, attempt)

	statuses := collectStatuses(attempt)
	assert.Equal(t, []Status{StatusSubmitting, StatusPolling, StatusConnected}, statuses)

	final := attempt.Snapshot()
	assert.Equal(t, StatusConnected, final.Status)
	assert.Equal(t, "conn-1", final.ConnectionID)
	assert.NoError(t, attempt.Err())

	conns := core.registry.List()
	require.Len(t, conns, 1)
	assert.Equal(t, "bank-01", conns[0].InstitutionID)
	assert.Equal(t, "conn-1", conns[0].ConnectionID)
}

func TestSubmitImmediateConnected(t *testing.T) {
	mock := &MockClient{
		CreateConnectionFunc: func(ctx context.Context, token, institutionID, loginID, password string) (*aggregator.ConnectionResponse, int, error) {
			return connectedConnection("conn-9"), http.StatusCreated, nil
		},
	}
	core := newTestCore(t, mock, true)

	attempt, err := core.orchestrator.Submit(context.Background(), "bank-01", "user1", "pass1")
	require.NoError(t, err)
	waitDone(t, attempt)

	assert.Equal(t, []Status{StatusSubmitting, StatusConnected}, collectStatuses(attempt))
	assert.Equal(t, 0, mock.GetCalls(), "no polling expected when submission resolves immediately")
}

func TestDuplicateSubmissionConflict(t *testing.T) {
	release := make(chan struct{})
	mock := &MockClient{
		CreateConnectionFunc: func(ctx context.Context, token, institutionID, loginID, password string) (*aggregator.ConnectionResponse, int, error) {
			<-release
			return connectedConnection("conn-1"), http.StatusCreated, nil
		},
	}
	core := newTestCore(t, mock, true)

	first, err := core.orchestrator.Submit(context.Background(), "bank-01", "user1", "pass1")
	require.NoError(t, err)

	_, err = core.orchestrator.Submit(context.Background(), "bank-01", "user1", "pass1")
	require.Error(t, err)
	assert.Equal(t, fault.Conflict, fault.KindOf(err))

	// A different institution is not blocked by bank-01's in-flight attempt.
	other, err := core.orchestrator.Submit(context.Background(), "bank-02", "user1", "pass1")
	require.NoError(t, err)

	close(release)
	waitDone(t, first)
	waitDone(t, other)

	assert.Equal(t, StatusConnected, first.Snapshot().Status, "first attempt must be unaffected by the rejected duplicate")
	assert.Equal(t, StatusConnected, other.Snapshot().Status)
}

func TestSubmitEmptyCredentials(t *testing.T) {
	mock := &MockClient{}
	core := newTestCore(t, mock, true)

	_, err := core.orchestrator.Submit(context.Background(), "bank-01", "   ", "pass1")
	assert.ErrorIs(t, err, ErrEmptyLoginID)

	_, err = core.orchestrator.Submit(context.Background(), "bank-01", "user1", " \t ")
	assert.ErrorIs(t, err, ErrEmptyPassword)

	assert.Equal(t, 0, mock.CreateCalls(), "precondition failures must not reach the network")
}

func TestSubmitRequiresSession(t *testing.T) {
	mock := &MockClient{}
	core := newTestCore(t, mock, false)

	_, err := core.orchestrator.Submit(context.Background(), "bank-01", "user1", "pass1")
	assert.Equal(t, fault.Unauthenticated, fault.KindOf(err))
	assert.Equal(t, 0, mock.CreateCalls())
}

func TestInvalidCredentialsThenRetry(t *testing.T) {
	rejected := true
	mock := &MockClient{}
	mock.CreateConnectionFunc = func(ctx context.Context, token, institutionID, loginID, password string) (*aggregator.ConnectionResponse, int, error) {
		if rejected {
			return nil, http.StatusUnauthorized, fmt.Errorf("API error (status 401)")
		}
		return connectedConnection("conn-1"), http.StatusCreated, nil
	}
	core := newTestCore(t, mock, true)

	attempt, err := core.orchestrator.Submit(context.Background(), "bank-01", "user1", "wrong")
	require.NoError(t, err)
	waitDone(t, attempt)

	assert.Equal(t, StatusError, attempt.Snapshot().Status)
	assert.Equal(t, fault.InvalidCredentials, fault.KindOf(attempt.Err()))

	// Second attempt with corrected credentials succeeds without any
	// catalog refetch.
	rejected = false
	retry, err := core.orchestrator.Submit(context.Background(), "bank-01", "user1", "right")
	require.NoError(t, err)
	waitDone(t, retry)

	assert.Equal(t, StatusConnected, retry.Snapshot().Status)
	assert.Equal(t, 0, mock.InstitutionCalls())
}

func TestTransportFailureDuringSubmit(t *testing.T) {
	mock := &MockClient{
		CreateConnectionFunc: func(ctx context.Context, token, institutionID, loginID, password string) (*aggregator.ConnectionResponse, int, error) {
			return nil, 0, errors.New("connection refused")
		},
	}
	core := newTestCore(t, mock, true)

	attempt, err := core.orchestrator.Submit(context.Background(), "bank-01", "user1", "pass1")
	require.NoError(t, err)
	waitDone(t, attempt)

	assert.Equal(t, fault.NetworkUnavailable, fault.KindOf(attempt.Err()))
}

func TestPollingBudgetExceeded(t *testing.T) {
	mock := &MockClient{
		GetConnectionFunc: func(ctx context.Context, token, connectionID string) (*aggregator.ConnectionResponse, error) {
			resp := pendingConnection("bank-01")
			resp.Data.ID = connectionID
			return resp, nil
		},
	}

	sessions := session.NewManager(mock)
	_, err := sessions.Authenticate(context.Background())
	require.NoError(t, err)

	registry := NewRegistry(mock, sessions)
	orch := NewOrchestrator(mock, sessions, catalog.New(mock, sessions), credential.NewVault(), registry, Config{
		PollInterval: time.Millisecond,
		PollBudget:   25 * time.Millisecond,
	})

	attempt, err := orch.Submit(context.Background(), "bank-01", "user1", "pass1")
	require.NoError(t, err)
	waitDone(t, attempt)

	assert.Equal(t, fault.Timeout, fault.KindOf(attempt.Err()))
	assert.Empty(t, registry.List())
}

func TestInstitutionOutageDuringPolling(t *testing.T) {
	mock := &MockClient{
		GetConnectionFunc: func(ctx context.Context, token, connectionID string) (*aggregator.ConnectionResponse, error) {
			return &aggregator.ConnectionResponse{
				Success: true,
				Data: aggregator.ConnectionData{
					ID:     connectionID,
					Status: aggregator.ConnectionStatusOutage,
				},
			}, nil
		},
	}
	core := newTestCore(t, mock, true)

	attempt, err := core.orchestrator.Submit(context.Background(), "bank-01", "user1", "pass1")
	require.NoError(t, err)
	waitDone(t, attempt)

	assert.Equal(t, fault.NetworkUnavailable, fault.KindOf(attempt.Err()))
}

func TestCredentialsZeroedAfterTerminalState(t *testing.T) {
	tests := []struct {
		name string
		mock func() *MockClient
	}{
		{
			name: "Connected",
			mock: func() *MockClient { return &MockClient{} },
		},
		{
			name: "Invalid credentials",
			mock: func() *MockClient {
				return &MockClient{
					CreateConnectionFunc: func(ctx context.Context, token, institutionID, loginID, password string) (*aggregator.ConnectionResponse, int, error) {
						return nil, http.StatusUnauthorized, fmt.Errorf("API error (status 401)")
					},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core := newTestCore(t, tt.mock(), true)

			zeroed := make(chan bool, 1)
			core.vault.SetReleaseHook(func(login, password []byte) {
				ok := true
				for _, b := range login {
					if b != 0 {
						ok = false
					}
				}
				for _, b := range password {
					if b != 0 {
						ok = false
					}
				}
				zeroed <- ok
			})

			attempt, err := core.orchestrator.Submit(context.Background(), "bank-01", "user1", "pass1")
			require.NoError(t, err)
			waitDone(t, attempt)

			select {
			case ok := <-zeroed:
				assert.True(t, ok, "credential buffers not zeroed at release")
			case <-time.After(time.Second):
				t.Fatalf("vault release hook never fired")
			}
		})
	}
}

func TestCancellationDuringPolling(t *testing.T) {
	polled := make(chan struct{}, 1)
	mock := &MockClient{
		GetConnectionFunc: func(ctx context.Context, token, connectionID string) (*aggregator.ConnectionResponse, error) {
			select {
			case polled <- struct{}{}:
			default:
			}
			resp := pendingConnection("bank-01")
			resp.Data.ID = connectionID
			return resp, nil
		},
	}
	core := newTestCore(t, mock, true)

	zeroed := make(chan struct{}, 1)
	core.vault.SetReleaseHook(func(login, password []byte) {
		zeroed <- struct{}{}
	})

	ctx, cancel := context.WithCancel(context.Background())
	attempt, err := core.orchestrator.Submit(ctx, "bank-01", "user1", "pass1")
	require.NoError(t, err)

	<-polled
	cancel()
	waitDone(t, attempt)

	assert.Equal(t, StatusError, attempt.Snapshot().Status)
	assert.Error(t, attempt.Err())

	select {
	case <-zeroed:
	case <-time.After(time.Second):
		t.Fatalf("credentials not released on cancellation")
	}
}

func TestCancellationSurfacedThroughPollError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	// Cancellation lands while the status poll is mid-flight, so the
	// request itself returns the cancellation error.
	mock := &MockClient{
		GetConnectionFunc: func(ctx context.Context, token, connectionID string) (*aggregator.ConnectionResponse, error) {
			cancel()
			return nil, fmt.Errorf("failed to execute request: %w", ctx.Err())
		},
	}
	core := newTestCore(t, mock, true)

	attempt, err := core.orchestrator.Submit(ctx, "bank-01", "user1", "pass1")
	require.NoError(t, err)
	waitDone(t, attempt)

	final := attempt.Snapshot()
	assert.Equal(t, StatusError, final.Status)
	assert.Empty(t, final.ErrorKind, "cancellation must not be reported as a connection fault")
	assert.Equal(t, "attempt cancelled before completion", final.ErrorDetail)
}

func TestEnsureReady(t *testing.T) {
	authFails := true
	mock := &MockClient{
		AuthenticateWithStatusFunc: func(ctx context.Context) (*aggregator.AuthResponse, int, error) {
			if authFails {
				return nil, 0, errors.New("connection refused")
			}
			now := time.Now()
			return &aggregator.AuthResponse{
				Success: true,
				Data: aggregator.AuthData{
					Token:           "token-1",
					ExpiresAtString: now.Add(time.Hour).Format(time.RFC3339),
				},
			}, http.StatusOK, nil
		},
	}
	core := newTestCore(t, mock, false)

	assert.Equal(t, StatusIdle, core.orchestrator.State())

	err := core.orchestrator.EnsureReady(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusError, core.orchestrator.State())
	assert.Error(t, core.orchestrator.LastError())

	// The error phase is re-enterable: a later EnsureReady starts over.
	authFails = false
	require.NoError(t, core.orchestrator.EnsureReady(context.Background()))
	assert.Equal(t, StatusReady, core.orchestrator.State())
	assert.NoError(t, core.orchestrator.LastError())
	assert.Equal(t, 1, mock.InstitutionCalls())
}

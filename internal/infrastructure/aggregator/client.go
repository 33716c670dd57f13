package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://api.bankbridge.dev/v1"
	defaultTimeout = 15 * time.Second
	authPath       = "/auth"
	institutions   = "/institutions"
	connections    = "/connections"
)

// Client handles communication with the open-banking aggregator API
type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// NewClient creates a new aggregator API client. clientID and clientSecret are
// the service-level credentials presented on POST /auth; baseURL and timeout
// fall back to defaults when zero.
func NewClient(baseURL, clientID, clientSecret string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// AuthResponse represents the API response for a service authentication
type AuthResponse struct {
	Success   bool     `json:"success"`
	Data      AuthData `json:"data"`
	Timestamp string   `json:"timestamp"`
}

// AuthData carries the session token and its validity window
type AuthData struct {
	Token           string `json:"token"`
	IssuedAtString  string `json:"issuedAt"`  // RFC 3339
	ExpiresAtString string `json:"expiresAt"` // RFC 3339
}

// GetIssuedAt parses and returns the issuedAt timestamp
func (a *AuthData) GetIssuedAt() (*time.Time, error) {
	if a.IssuedAtString == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, a.IssuedAtString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse issuedAt '%s': %w", a.IssuedAtString, err)
	}
	return &t, nil
}

// GetExpiresAt parses and returns the expiresAt timestamp
func (a *AuthData) GetExpiresAt() (*time.Time, error) {
	if a.ExpiresAtString == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, a.ExpiresAtString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expiresAt '%s': %w", a.ExpiresAtString, err)
	}
	return &t, nil
}

// InstitutionResponse represents the API response for the institution catalog
type InstitutionResponse struct {
	Success   bool          `json:"success"`
	Data      []Institution `json:"data"`
	Count     int           `json:"count"`
	Timestamp string        `json:"timestamp"`
}

// Institution represents a supported financial institution from the aggregator
type Institution struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	ShortName           string `json:"shortName"`
	Type                string `json:"type"` // "BANK", "CREDIT_UNION", "BROKERAGE", ...
	LoginIDCaption      string `json:"loginIdCaption"`
	PasswordCaption     string `json:"passwordCaption"`
	SupportsOpenBanking bool   `json:"supportsOpenBanking"`
}

// ConnectionResponse represents the API response for a single connection
type ConnectionResponse struct {
	Success   bool           `json:"success"`
	Data      ConnectionData `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// ConnectionListResponse represents the API response for the connection list
type ConnectionListResponse struct {
	Success   bool             `json:"success"`
	Data      []ConnectionData `json:"data"`
	Count     int              `json:"count"`
	Timestamp string           `json:"timestamp"`
}

// Aggregator-reported connection statuses. PENDING and UPDATING are
// non-terminal; the rest resolve the attempt.
const (
	ConnectionStatusPending    = "PENDING"
	ConnectionStatusUpdating   = "UPDATING"
	ConnectionStatusConnected  = "CONNECTED"
	ConnectionStatusLoginError = "LOGIN_ERROR"
	ConnectionStatusOutage     = "OUTAGE"
)

// ConnectionData represents a bank connection from the aggregator
type ConnectionData struct {
	ID              string `json:"id"`
	InstitutionID   string `json:"institutionId"`
	Status          string `json:"status"`
	LastSyncStatus  string `json:"lastSyncStatus"`
	CreatedAtString string `json:"createdAt"`
	UpdatedAtString string `json:"updatedAt"`
}

// GetCreatedAt parses and returns the createdAt timestamp
func (c *ConnectionData) GetCreatedAt() (*time.Time, error) {
	if c.CreatedAtString == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, c.CreatedAtString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse createdAt '%s': %w", c.CreatedAtString, err)
	}
	return &t, nil
}

// GetUpdatedAt parses and returns the updatedAt timestamp
func (c *ConnectionData) GetUpdatedAt() (*time.Time, error) {
	if c.UpdatedAtString == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, c.UpdatedAtString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updatedAt '%s': %w", c.UpdatedAtString, err)
	}
	return &t, nil
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AuthenticateWithStatus exchanges the service credentials for a session token
// and returns both the response and HTTP status code. This allows callers to
// handle different status codes (e.g., 401) while still parsing successful
// responses.
func (c *Client) AuthenticateWithStatus(ctx context.Context) (*AuthResponse, int, error) {
	url := c.baseURL + authPath

	payload, err := json.Marshal(map[string]string{
		"clientId":     c.clientID,
		"clientSecret": c.clientSecret,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal auth payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}
		return nil, resp.StatusCode, fmt.Errorf("API error (status %d): %s - %s", resp.StatusCode, errResp.Error, errResp.Message)
	}

	var authResp AuthResponse
	if err := json.Unmarshal(body, &authResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !authResp.Success {
		return nil, resp.StatusCode, fmt.Errorf("API returned success=false")
	}

	return &authResp, resp.StatusCode, nil
}

// Authenticate exchanges the service credentials for a session token
func (c *Client) Authenticate(ctx context.Context) (*AuthResponse, error) {
	resp, _, err := c.AuthenticateWithStatus(ctx)
	return resp, err
}

// GetInstitutionsWithStatus fetches the institution catalog using a session
// token and returns both the response and HTTP status code so callers can
// tell a server-side session rejection (401) apart from other failures.
func (c *Client) GetInstitutionsWithStatus(ctx context.Context, token string) (*InstitutionResponse, int, error) {
	url := c.baseURL + institutions

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}
		return nil, resp.StatusCode, fmt.Errorf("API error (status %d): %s - %s", resp.StatusCode, errResp.Error, errResp.Message)
	}

	var instResp InstitutionResponse
	if err := json.Unmarshal(body, &instResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !instResp.Success {
		return nil, resp.StatusCode, fmt.Errorf("API returned success=false")
	}

	return &instResp, resp.StatusCode, nil
}

// CreateConnectionWithStatus submits user credentials for an institution and
// returns both the response and HTTP status code. A 401 from this endpoint
// means the institution rejected the user's login, not our service auth; the
// caller maps it accordingly. Credentials travel only in the request body
// over TLS and are never logged here.
func (c *Client) CreateConnectionWithStatus(ctx context.Context, token, institutionID, loginID, password string) (*ConnectionResponse, int, error) {
	url := c.baseURL + connections

	payload, err := json.Marshal(map[string]string{
		"institutionId": institutionID,
		"loginId":       loginID,
		"password":      password,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal connection payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("API request failed with status %d", resp.StatusCode)
		}
		return nil, resp.StatusCode, fmt.Errorf("API error (status %d): %s", resp.StatusCode, errResp.Error)
	}

	var connResp ConnectionResponse
	if err := json.Unmarshal(body, &connResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !connResp.Success {
		return nil, resp.StatusCode, fmt.Errorf("API returned success=false")
	}

	return &connResp, resp.StatusCode, nil
}

// GetConnection fetches the current state of a single connection, used to
// poll an accepted submission until the aggregator finalizes it
func (c *Client) GetConnection(ctx context.Context, token, connectionID string) (*ConnectionResponse, error) {
	url := c.baseURL + connections + "/" + connectionID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, fmt.Errorf("API request failed with status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, errResp.Error)
	}

	var connResp ConnectionResponse
	if err := json.Unmarshal(body, &connResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !connResp.Success {
		return nil, fmt.Errorf("API returned success=false")
	}

	return &connResp, nil
}

// ListConnectionsWithStatus fetches the authoritative list of active
// connections for the authenticated user, used for registry reconciliation
func (c *Client) ListConnectionsWithStatus(ctx context.Context, token string) (*ConnectionListResponse, int, error) {
	url := c.baseURL + connections

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}
		return nil, resp.StatusCode, fmt.Errorf("API error (status %d): %s - %s", resp.StatusCode, errResp.Error, errResp.Message)
	}

	var listResp ConnectionListResponse
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !listResp.Success {
		return nil, resp.StatusCode, fmt.Errorf("API returned success=false")
	}

	return &listResp, resp.StatusCode, nil
}

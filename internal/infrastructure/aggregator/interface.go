package aggregator

import (
	"context"
)

// ClientInterface defines the methods required from the aggregator API client
type ClientInterface interface {
	Authenticate(ctx context.Context) (*AuthResponse, error)
	AuthenticateWithStatus(ctx context.Context) (*AuthResponse, int, error) // Returns response and status code
	GetInstitutionsWithStatus(ctx context.Context, token string) (*InstitutionResponse, int, error)
	CreateConnectionWithStatus(ctx context.Context, token, institutionID, loginID, password string) (*ConnectionResponse, int, error)
	GetConnection(ctx context.Context, token, connectionID string) (*ConnectionResponse, error)
	ListConnectionsWithStatus(ctx context.Context, token string) (*ConnectionListResponse, int, error)
}

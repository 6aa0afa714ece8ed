package store

import (
	"context"
	"errors"
	"time"

	"github.com/apipulse/apipulse/pkg/models"
)

var (
	// ErrNotConnected signals use of the store before Connect succeeded.
	ErrNotConnected = errors.New("store not connected")

	// ErrNotFound signals a lookup that matched nothing.
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateEvent signals a hit whose eventId is already stored.
	// Re-delivered events hit this; callers treat it as success.
	ErrDuplicateEvent = errors.New("event already recorded")

	// ErrDuplicateKey signals a uniqueness violation on an identity entity
	// (username, email, key id).
	ErrDuplicateKey = errors.New("duplicate key violation")
)

// HitFilter narrows hit listings. ClientID is required; zero values on the
// other fields mean "any". Results are always newest first.
type HitFilter struct {
	ClientID    string
	ServiceName string
	Endpoint    string
	StatusCode  int
	From        time.Time
	To          time.Time
	Limit       int
}

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	InsertHit(ctx context.Context, hit *models.Hit) error
	GetHitByEventID(ctx context.Context, eventID string) (*models.Hit, error)
	ListHitsByClient(ctx context.Context, filter HitFilter) ([]*models.Hit, error)
	ListHitsByAPIKey(ctx context.Context, apiKeyID string, limit int) ([]*models.Hit, error)

	CreateUser(ctx context.Context, user *models.User) error
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateClient(ctx context.Context, client *models.Client) error
	GetClient(ctx context.Context, id string) (*models.Client, error)

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	ListAPIKeys(ctx context.Context, clientID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id, clientID string) error
}

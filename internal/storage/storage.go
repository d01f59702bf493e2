// Package storage defines the server database: API keys, the registered
// version inventory and the self-hosted weighted zone.
package storage

import (
	"context"

	"github.com/bcnelson/stack-traffic-manager/internal/domain"
)

// Storage defines the interface for the storage layer.
// Implementations must be safe for concurrent use.
type Storage interface {
	// Close closes the storage connection.
	Close() error

	// API Keys
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListAPIKeys(ctx context.Context) ([]*domain.APIKey, error)
	DeleteAPIKey(ctx context.Context, id string) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	CountAPIKeys(ctx context.Context) (int, error)

	// Version inventory. Storage satisfies directory.Directory.
	RegisterVersion(ctx context.Context, version *domain.StackVersion) error
	DeregisterVersion(ctx context.Context, application, version string) error
	ListVersions(ctx context.Context, application string) ([]domain.StackVersion, error)

	// Weighted zone. Storage satisfies records.Store; the revision is a
	// per-domain serial incremented by every applied batch.
	ReadRecords(ctx context.Context, domainName string) (*domain.RecordSet, error)
	ApplyChanges(ctx context.Context, batch *domain.ChangeBatch) (string, error)
}

package store

import (
	"context"
	"errors"

	"github.com/trawler-io/trawler/internal/model"
)

// ErrNotFound is returned when a tenant has no saved configuration.
var ErrNotFound = errors.New("config not found")

// Store defines the persistence operations for tenant scrape configurations.
type Store interface {
	GetConfig(ctx context.Context, tenantID string) (*model.ScrapeConfig, error)
	PutConfig(ctx context.Context, tenantID string, cfg *model.ScrapeConfig) error
	Close() error
}

package store

import (
	"context"

	"github.com/evanramirez88/restaurant-consulting-site/automation/clients"
	"github.com/evanramirez88/restaurant-consulting-site/automation/job"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store
	job.Analytics
	clients.Directory

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

package store

import (
	"context"

	"github.com/xraph/conveyor/job"
)

// Store is the full backend surface: the job persistence contract, its read
// side and connection lifecycle. Every backend in this module implements it.
type Store interface {
	job.Store
	job.Inspector

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

package storage

import (
	"context"

	"github.com/w3c/groups-server/internal/domain"
)

// DefaultListLimit is used when a caller asks for a non-positive number of runs
const DefaultListLimit = 20

// Storage is the abstract interface for the run history
type Storage interface {
	// SaveRun inserts the run or updates the stored copy with the same ID
	SaveRun(ctx context.Context, run *domain.CycleRun) error

	// GetRun retrieves one run; an unknown ID is a NOT_FOUND error
	GetRun(ctx context.Context, id string) (*domain.CycleRun, error)

	// ListRuns returns the most recent runs first
	ListRuns(ctx context.Context, limit int) ([]*domain.CycleRun, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}

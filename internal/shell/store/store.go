package store

import (
	"context"

	"github.com/artpar/quickops/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for projects.
type Store interface {
	// CreateProject inserts p, assigning ID, timestamps and the initial
	// NOT_DEPLOYED status when unset.
	CreateProject(ctx context.Context, p *domain.Project) error
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	FindByName(ctx context.Context, name string) (*domain.Project, error)
	ListProjects(ctx context.Context, opts ListOptions) ([]domain.Project, error)

	// UpdateByID applies a partial update and returns the stored result.
	UpdateByID(ctx context.Context, id string, update domain.ProjectUpdate) (*domain.Project, error)

	// DeleteProject removes a project. Deployed projects are refused with
	// ErrProjectDeployed.
	DeleteProject(ctx context.Context, id string) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Limit  int
	Offset int
	// Status filters by status when set.
	Status domain.ProjectStatus
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

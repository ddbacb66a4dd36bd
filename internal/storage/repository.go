package storage

import (
	"context"
	"time"

	"github.com/example/approvalflow/internal/domain"
)

// ListOptions provides filtering options for instance list operations.
type ListOptions struct {
	// DefinitionID restricts results to one definition (empty = all).
	DefinitionID string

	// Completed filters by completion (nil = both).
	Completed *bool

	// Pagination
	Limit  int
	Offset int
}

// RoleRepository provides access to Role storage.
type RoleRepository interface {
	// Create creates a new Role.
	Create(ctx context.Context, role *domain.Role) error

	// GetByName retrieves a Role by its unique name.
	GetByName(ctx context.Context, name string) (*domain.Role, error)

	// List lists all Roles ordered by name.
	List(ctx context.Context) ([]*domain.Role, error)
}

// DefinitionRepository provides access to WorkflowDefinition storage.
// Definitions are written only by bootstrap; the engine reads them.
type DefinitionRepository interface {
	// Create creates a definition with its steps and required roles.
	// Referenced roles must already exist.
	Create(ctx context.Context, def *domain.WorkflowDefinition) error

	// Get retrieves a definition with its steps by ID.
	Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error)

	// GetByName retrieves a definition with its steps by name.
	GetByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error)

	// List lists all definitions, steps included, ordered by name.
	List(ctx context.Context) ([]*domain.WorkflowDefinition, error)
}

// InstanceRepository provides access to WorkflowInstance storage.
//
// Loaded instances carry their full step and approval graph but not the
// Definition pointer; callers attach it.
type InstanceRepository interface {
	// Create creates an instance with all of its step instances.
	Create(ctx context.Context, inst *domain.WorkflowInstance) error

	// Get retrieves an instance by ID.
	Get(ctx context.Context, id string) (*domain.WorkflowInstance, error)

	// Update saves a mutated instance. It fails with ErrConcurrentModify when
	// the stored version differs from inst.Version, and inserts approvals
	// that have not been persisted yet (ID == 0).
	Update(ctx context.Context, inst *domain.WorkflowInstance) error

	// List lists instances ordered by start time.
	List(ctx context.Context, opts ListOptions) ([]*domain.WorkflowInstance, error)

	// ListExpired returns the IDs of active instances whose current step is
	// pending and has a time limit with expires_at <= now.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)

	// NextExpiration returns the earliest expires_at > now among active
	// instances whose current step is pending and time limited, or nil.
	NextExpiration(ctx context.Context, now time.Time) (*time.Time, error)
}

// UnitOfWork provides transactional access to all repositories.
type UnitOfWork interface {
	// Repository accessors
	Roles() RoleRepository
	Definitions() DefinitionRepository
	Instances() InstanceRepository

	// Transaction control
	Commit() error
	Rollback() error
}

// Storage provides the main entry point for storage operations.
type Storage interface {
	// Begin starts a new transaction and returns a UnitOfWork.
	Begin(ctx context.Context) (UnitOfWork, error)

	// Close closes the storage connection.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

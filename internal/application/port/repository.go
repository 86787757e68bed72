package port

import (
	"context"
	"time"

	"github.com/veritrail/veritrail/internal/domain/entity"
)

// DefinitionRepository defines persistence operations for WorkflowDefinition.
// The engine reads definitions; writes come only from administrative CRUD.
type DefinitionRepository interface {
	// Create persists a definition together with its steps
	Create(ctx context.Context, def *entity.WorkflowDefinition) error

	// GetByID retrieves a definition with its steps ordered by step order,
	// scoped to the tenant. Returns nil when absent.
	GetByID(ctx context.Context, tenantID, id int64) (*entity.WorkflowDefinition, error)

	// List retrieves a tenant's definitions with pagination (steps not loaded)
	List(ctx context.Context, tenantID int64, limit, offset int) ([]*entity.WorkflowDefinition, error)

	// Update replaces a definition's attributes and steps
	Update(ctx context.Context, def *entity.WorkflowDefinition) error

	// Deactivate clears the active flag
	Deactivate(ctx context.Context, tenantID, id int64) error

	// Delete removes a definition; fails if any instance references it
	Delete(ctx context.Context, tenantID, id int64) error

	// HasInstances reports whether any instance references the definition
	HasInstances(ctx context.Context, id int64) (bool, error)
}

// InstanceRepository defines persistence operations for WorkflowInstance
type InstanceRepository interface {
	// Create persists a new instance
	Create(ctx context.Context, instance *entity.WorkflowInstance) error

	// GetByID retrieves an instance by id. Returns nil when absent.
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)

	// GetActiveByEntity retrieves the non-terminal instance for an entity,
	// or nil when none exists
	GetActiveByEntity(ctx context.Context, tenantID int64, entityType, entityID string) (*entity.WorkflowInstance, error)

	// UpdateProgress persists the outcome of a dispatch chain: status,
	// current step pointer and completion timestamp
	UpdateProgress(ctx context.Context, id int64, status string, currentStepOrder *int, completedAt *time.Time) error

	// MarkCancelled stamps the cancelling identity and timestamp and sets
	// the terminal CANCELLED status
	MarkCancelled(ctx context.Context, id int64, cancelledBy string, at time.Time) error

	// List retrieves a tenant's instances with pagination
	List(ctx context.Context, tenantID int64, limit, offset int) ([]*entity.WorkflowInstance, error)
}

// StepExecutionRepository defines persistence operations for the append-only
// WorkflowStepExecution audit log
type StepExecutionRepository interface {
	// Create appends a new execution row
	Create(ctx context.Context, exec *entity.WorkflowStepExecution) error

	// GetByInstanceID retrieves all executions for an instance in creation order
	GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.WorkflowStepExecution, error)

	// GetPending retrieves the open execution for (instance, step order),
	// or nil when none is pending
	GetPending(ctx context.Context, instanceID int64, stepOrder int) (*entity.WorkflowStepExecution, error)

	// Resolve closes an execution with a final status, executor and comments
	Resolve(ctx context.Context, id int64, status, executedBy, comments string, at time.Time) error
}

// UserRepository defines read operations for actors
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*entity.User, error)
}

// NotificationRepository defines persistence operations for OutboundNotification
type NotificationRepository interface {
	Create(ctx context.Context, notification *entity.OutboundNotification) error
	GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.OutboundNotification, error)
	MarkSent(ctx context.Context, id int64) error
	UpdateStatus(ctx context.Context, id int64, status, errorMsg string) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

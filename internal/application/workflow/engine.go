package workflow

import (
	"context"

	"github.com/veritrail/veritrail/internal/domain/entity"
)

// StartRequest carries the context for starting a workflow: the definition
// to run and the already-authenticated acting identity.
type StartRequest struct {
	DefinitionID int64
	TenantID     int64
	EntityType   string
	EntityID     string
	ActorID      string
	ActorRole    string
}

// Engine drives workflow instances through their definition's steps.
// Every operation executes as a single transaction against persistence.
type Engine interface {
	// StartWorkflow validates the definition, enforces the single-active-
	// instance invariant, creates the instance and dispatches its first step
	StartWorkflow(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error)

	// ApproveStep resolves the pending execution of the instance's current
	// step and re-dispatches it with the approving actor's context
	ApproveStep(ctx context.Context, instanceID int64, stepOrder int, actorID, comments string) (*entity.WorkflowInstance, error)

	// RejectStep resolves the pending execution as rejected and terminates
	// the instance; no further steps run
	RejectStep(ctx context.Context, instanceID int64, stepOrder int, actorID, comments string) (*entity.WorkflowInstance, error)

	// CancelWorkflow terminates a non-terminal instance on the caller's
	// request, leaving pending execution rows untouched
	CancelWorkflow(ctx context.Context, instanceID int64, actorID string) error

	// ActiveInstanceForEntity returns the non-terminal instance for an
	// entity with its definition and execution trail loaded
	ActiveInstanceForEntity(ctx context.Context, tenantID int64, entityType, entityID string) (*entity.WorkflowInstance, error)

	// GetInstance returns one instance with its definition and execution
	// trail loaded, scoped to the tenant
	GetInstance(ctx context.Context, tenantID, instanceID int64) (*entity.WorkflowInstance, error)

	// ListInstances returns a tenant's instances with pagination
	ListInstances(ctx context.Context, tenantID int64, limit, offset int) ([]*entity.WorkflowInstance, error)
}

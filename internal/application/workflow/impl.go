package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/veritrail/veritrail/internal/application/dispatcher"
	"github.com/veritrail/veritrail/internal/application/port"
	"github.com/veritrail/veritrail/internal/domain/entity"
	"github.com/veritrail/veritrail/internal/domain/event"
	domainwf "github.com/veritrail/veritrail/internal/domain/workflow"
)

// engineImpl is the concrete implementation of Engine
type engineImpl struct {
	definitionRepo port.DefinitionRepository
	instanceRepo   port.InstanceRepository
	executionRepo  port.StepExecutionRepository
	userRepo       port.UserRepository
	txManager      port.TransactionManager
	handlers       *domainwf.HandlerSet
	dispatcher     dispatcher.Dispatcher
	logger         *zap.Logger
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting lifecycle events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	definitionRepo port.DefinitionRepository,
	instanceRepo port.InstanceRepository,
	executionRepo port.StepExecutionRepository,
	userRepo port.UserRepository,
	txManager port.TransactionManager,
	handlers *domainwf.HandlerSet,
	logger *zap.Logger,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		definitionRepo: definitionRepo,
		instanceRepo:   instanceRepo,
		executionRepo:  executionRepo,
		userRepo:       userRepo,
		txManager:      txManager,
		handlers:       handlers,
		logger:         logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// StartWorkflow creates an instance and dispatches its first step.
// Zero-step definitions complete immediately as APPROVED.
func (e *engineImpl) StartWorkflow(ctx context.Context, req StartRequest) (*entity.WorkflowInstance, error) {
	var inst *entity.WorkflowInstance

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		def, err := e.definitionRepo.GetByID(txCtx, req.TenantID, req.DefinitionID)
		if err != nil {
			return fmt.Errorf("load definition: %w", err)
		}
		if def == nil || !def.Active || def.EntityType != req.EntityType {
			return fmt.Errorf("%w: definition %d for entity type %q",
				domainwf.ErrInvalidDefinition, req.DefinitionID, req.EntityType)
		}

		active, err := e.instanceRepo.GetActiveByEntity(txCtx, req.TenantID, req.EntityType, req.EntityID)
		if err != nil {
			return fmt.Errorf("check active instance: %w", err)
		}
		if active != nil {
			return fmt.Errorf("%w: instance %d is still running for %s/%s",
				domainwf.ErrDuplicateActiveWorkflow, active.ID, req.EntityType, req.EntityID)
		}

		inst = &entity.WorkflowInstance{
			TenantID:     req.TenantID,
			DefinitionID: def.ID,
			EntityType:   req.EntityType,
			EntityID:     req.EntityID,
			Status:       entity.InstanceStatusDraft,
			StartedBy:    req.ActorID,
		}

		first, hasSteps := def.FirstStepOrder()
		if hasSteps {
			inst.CurrentStepOrder = &first
		}

		if err := e.instanceRepo.Create(txCtx, inst); err != nil {
			return fmt.Errorf("create instance: %w", err)
		}
		inst.Definition = def

		if !hasSteps {
			return e.applyResult(txCtx, inst, domainwf.StepResult{
				Success: true,
				Status:  domainwf.StateApproved,
				Message: "definition has no steps",
			})
		}

		actor := domainwf.Actor{UserID: req.ActorID, Role: req.ActorRole, TenantID: req.TenantID}
		result, err := e.advance(txCtx, inst, def, first, actor)
		if err != nil {
			return err
		}

		return e.applyResult(txCtx, inst, result)
	})

	if err != nil {
		return nil, err
	}

	e.logger.Info("Workflow started",
		zap.Int64("instance_id", inst.ID),
		zap.Int64("definition_id", inst.DefinitionID),
		zap.String("entity_type", inst.EntityType),
		zap.String("entity_id", inst.EntityID),
		zap.String("status", inst.Status))

	e.emit(ctx, event.TypeWorkflowStarted, inst, map[string]interface{}{
		"entity_type": inst.EntityType,
		"entity_id":   inst.EntityID,
		"status":      inst.Status,
	})
	switch inst.Status {
	case entity.InstanceStatusApproved:
		e.emit(ctx, event.TypeWorkflowCompleted, inst, map[string]interface{}{"status": inst.Status})
	case entity.InstanceStatusPendingApproval:
		e.emit(ctx, event.TypeStepParked, inst, map[string]interface{}{"step_order": inst.CurrentStepOrder})
	}

	return inst, nil
}

// ApproveStep resolves the current step's pending execution with the
// approving actor's identity, then re-dispatches the same step so the
// approval handler re-runs the authorization gate under that actor and
// computes the next step. The park-then-resolve-and-redispatch shape is
// intentional: the gate's outcome depends on who is calling at each of the
// two dispatch points.
func (e *engineImpl) ApproveStep(ctx context.Context, instanceID int64, stepOrder int, actorID, comments string) (*entity.WorkflowInstance, error) {
	var inst *entity.WorkflowInstance

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		actor, loadedInst, def, err := e.loadForAction(txCtx, instanceID, stepOrder, actorID)
		if err != nil {
			return err
		}
		inst = loadedInst

		pending, err := e.executionRepo.GetPending(txCtx, instanceID, stepOrder)
		if err != nil {
			return fmt.Errorf("load pending execution: %w", err)
		}
		if pending != nil {
			if err := e.executionRepo.Resolve(txCtx, pending.ID, entity.ExecutionStatusApproved, actorID, comments, time.Now()); err != nil {
				return fmt.Errorf("resolve execution: %w", err)
			}
		}

		result, err := e.advance(txCtx, inst, def, stepOrder, actor)
		if err != nil {
			return err
		}

		return e.applyResult(txCtx, inst, result)
	})

	if err != nil {
		return nil, err
	}

	e.logger.Info("Step approval processed",
		zap.Int64("instance_id", inst.ID),
		zap.Int("step_order", stepOrder),
		zap.String("actor_id", actorID),
		zap.String("status", inst.Status))

	e.emit(ctx, event.TypeStepApproved, inst, map[string]interface{}{
		"step_order": stepOrder,
		"actor_id":   actorID,
		"status":     inst.Status,
	})
	switch inst.Status {
	case entity.InstanceStatusApproved:
		e.emit(ctx, event.TypeWorkflowCompleted, inst, map[string]interface{}{"status": inst.Status})
	case entity.InstanceStatusPendingApproval:
		e.emit(ctx, event.TypeStepParked, inst, map[string]interface{}{"step_order": inst.CurrentStepOrder})
	}

	return inst, nil
}

// RejectStep terminates the instance. Auto-advance settings are irrelevant:
// no further steps run after a rejection.
func (e *engineImpl) RejectStep(ctx context.Context, instanceID int64, stepOrder int, actorID, comments string) (*entity.WorkflowInstance, error) {
	var inst *entity.WorkflowInstance

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		_, loadedInst, _, err := e.loadForAction(txCtx, instanceID, stepOrder, actorID)
		if err != nil {
			return err
		}
		inst = loadedInst

		now := time.Now()

		pending, err := e.executionRepo.GetPending(txCtx, instanceID, stepOrder)
		if err != nil {
			return fmt.Errorf("load pending execution: %w", err)
		}
		if pending == nil {
			pending = &entity.WorkflowStepExecution{
				InstanceID: instanceID,
				StepOrder:  stepOrder,
				Status:     entity.ExecutionStatusPending,
			}
			if step := inst.Definition.StepAt(stepOrder); step != nil {
				pending.StepType = step.StepType
			}
			if err := e.executionRepo.Create(txCtx, pending); err != nil {
				return fmt.Errorf("create execution: %w", err)
			}
		}
		if err := e.executionRepo.Resolve(txCtx, pending.ID, entity.ExecutionStatusRejected, actorID, comments, now); err != nil {
			return fmt.Errorf("resolve execution: %w", err)
		}

		machine := BuildInstanceStateMachine(domainwf.State(inst.Status))
		if err := machine.Fire(txCtx, domainwf.TriggerReject); err != nil {
			return fmt.Errorf("%w: reject from status %s", domainwf.ErrAlreadyTerminal, inst.Status)
		}

		inst.Status = machine.State().String()
		inst.CurrentStepOrder = nil
		inst.CompletedAt = &now

		return e.instanceRepo.UpdateProgress(txCtx, inst.ID, inst.Status, nil, &now)
	})

	if err != nil {
		return nil, err
	}

	e.logger.Info("Step rejected",
		zap.Int64("instance_id", inst.ID),
		zap.Int("step_order", stepOrder),
		zap.String("actor_id", actorID))

	e.emit(ctx, event.TypeWorkflowRejected, inst, map[string]interface{}{
		"step_order": stepOrder,
		"actor_id":   actorID,
		"comments":   comments,
	})

	return inst, nil
}

// CancelWorkflow terminates a non-terminal instance. Pending execution rows
// are left as they are; the audit trail records that the step never resolved.
func (e *engineImpl) CancelWorkflow(ctx context.Context, instanceID int64, actorID string) error {
	var inst *entity.WorkflowInstance

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		user, err := e.loadActor(txCtx, actorID)
		if err != nil {
			return err
		}

		inst, err = e.instanceRepo.GetByID(txCtx, instanceID)
		if err != nil {
			return fmt.Errorf("load instance: %w", err)
		}
		if inst == nil || inst.TenantID != user.TenantID {
			return fmt.Errorf("%w: instance %d", domainwf.ErrInstanceNotFound, instanceID)
		}

		machine := BuildInstanceStateMachine(domainwf.State(inst.Status))
		if err := machine.Fire(txCtx, domainwf.TriggerCancel); err != nil {
			return fmt.Errorf("%w: cancel from status %s", domainwf.ErrAlreadyTerminal, inst.Status)
		}

		now := time.Now()
		inst.Status = machine.State().String()
		inst.CurrentStepOrder = nil
		inst.CancelledBy = actorID
		inst.CancelledAt = &now

		return e.instanceRepo.MarkCancelled(txCtx, inst.ID, actorID, now)
	})

	if err != nil {
		return err
	}

	e.logger.Info("Workflow cancelled",
		zap.Int64("instance_id", instanceID),
		zap.String("actor_id", actorID))

	e.emit(ctx, event.TypeWorkflowCancelled, inst, map[string]interface{}{"actor_id": actorID})

	return nil
}

// ActiveInstanceForEntity returns the running instance for an entity
func (e *engineImpl) ActiveInstanceForEntity(ctx context.Context, tenantID int64, entityType, entityID string) (*entity.WorkflowInstance, error) {
	inst, err := e.instanceRepo.GetActiveByEntity(ctx, tenantID, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("load active instance: %w", err)
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: no active workflow for %s/%s", domainwf.ErrInstanceNotFound, entityType, entityID)
	}

	if err := e.loadRelations(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// GetInstance returns one instance with relations, scoped to the tenant
func (e *engineImpl) GetInstance(ctx context.Context, tenantID, instanceID int64) (*entity.WorkflowInstance, error) {
	inst, err := e.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	if inst == nil || inst.TenantID != tenantID {
		return nil, fmt.Errorf("%w: instance %d", domainwf.ErrInstanceNotFound, instanceID)
	}

	if err := e.loadRelations(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// ListInstances returns a tenant's instances with pagination
func (e *engineImpl) ListInstances(ctx context.Context, tenantID int64, limit, offset int) ([]*entity.WorkflowInstance, error) {
	return e.instanceRepo.List(ctx, tenantID, limit, offset)
}

// advance dispatches the step at stepOrder and chains into the following
// step when either side of the hand-off is marked auto-advance: a step that
// advances past its own success, or a next step that runs without waiting
// for an external call. Every dispatch appends a PENDING execution row
// before the handler runs, so the audit trail is complete even when the
// handler parks or fails.
func (e *engineImpl) advance(ctx context.Context, inst *entity.WorkflowInstance, def *entity.WorkflowDefinition, stepOrder int, actor domainwf.Actor) (domainwf.StepResult, error) {
	step := def.StepAt(stepOrder)
	if step == nil {
		return domainwf.StepResult{}, fmt.Errorf("%w: step %d in definition %d", domainwf.ErrStepNotFound, stepOrder, def.ID)
	}

	exec := &entity.WorkflowStepExecution{
		InstanceID: inst.ID,
		StepOrder:  step.StepOrder,
		StepType:   step.StepType,
		Status:     entity.ExecutionStatusPending,
	}
	if err := e.executionRepo.Create(ctx, exec); err != nil {
		return domainwf.StepResult{}, fmt.Errorf("create execution: %w", err)
	}

	handler, err := e.handlers.For(step.StepType)
	if err != nil {
		return domainwf.StepResult{}, err
	}

	result, err := handler.Execute(ctx, step, inst, actor)
	if err != nil {
		return domainwf.StepResult{}, err
	}

	// Executor identity and timestamp are stamped only on success; a parked
	// step's execution stays PENDING for the eventual approver to resolve.
	if result.Success {
		if err := e.executionRepo.Resolve(ctx, exec.ID, entity.ExecutionStatusApproved, actor.UserID, result.Message, time.Now()); err != nil {
			return domainwf.StepResult{}, fmt.Errorf("resolve execution: %w", err)
		}
	}

	if result.Success && result.NextStepOrder != nil {
		if next := def.StepAt(*result.NextStepOrder); next != nil && (step.AutoAdvance || next.AutoAdvance) {
			return e.advance(ctx, inst, def, *result.NextStepOrder, actor)
		}
	}

	return result, nil
}

// applyResult persists the final outcome of a dispatch chain on the instance,
// validating the status transition through the instance state machine.
func (e *engineImpl) applyResult(ctx context.Context, inst *entity.WorkflowInstance, result domainwf.StepResult) error {
	machine := BuildInstanceStateMachine(domainwf.State(inst.Status))

	var trigger domainwf.Trigger
	switch result.Status {
	case domainwf.StateApproved:
		trigger = domainwf.TriggerComplete
	case domainwf.StatePendingApproval:
		trigger = domainwf.TriggerAwaitApproval
	default:
		return fmt.Errorf("%w: handler produced status %s", domainwf.ErrInvalidTransition, result.Status)
	}

	if err := machine.Fire(ctx, trigger); err != nil {
		return err
	}

	var completedAt *time.Time
	if machine.State() == domainwf.StateApproved && result.NextStepOrder == nil {
		now := time.Now()
		completedAt = &now
	}

	inst.Status = machine.State().String()
	inst.CurrentStepOrder = result.NextStepOrder
	inst.CompletedAt = completedAt

	return e.instanceRepo.UpdateProgress(ctx, inst.ID, inst.Status, result.NextStepOrder, completedAt)
}

// loadForAction loads and checks everything approve/reject need: the actor,
// the instance (tenant-scoped), the step gating and the definition.
func (e *engineImpl) loadForAction(ctx context.Context, instanceID int64, stepOrder int, actorID string) (domainwf.Actor, *entity.WorkflowInstance, *entity.WorkflowDefinition, error) {
	user, err := e.loadActor(ctx, actorID)
	if err != nil {
		return domainwf.Actor{}, nil, nil, err
	}

	inst, err := e.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return domainwf.Actor{}, nil, nil, fmt.Errorf("load instance: %w", err)
	}
	if inst == nil || inst.TenantID != user.TenantID {
		return domainwf.Actor{}, nil, nil, fmt.Errorf("%w: instance %d", domainwf.ErrInstanceNotFound, instanceID)
	}

	if domainwf.State(inst.Status).IsTerminal() {
		return domainwf.Actor{}, nil, nil, fmt.Errorf("%w: instance %d is %s", domainwf.ErrAlreadyTerminal, instanceID, inst.Status)
	}
	if inst.Status != entity.InstanceStatusPendingApproval || inst.CurrentStepOrder == nil || *inst.CurrentStepOrder != stepOrder {
		return domainwf.Actor{}, nil, nil, fmt.Errorf("%w: step %d is not current for instance %d", domainwf.ErrWrongStep, stepOrder, instanceID)
	}

	def, err := e.definitionRepo.GetByID(ctx, inst.TenantID, inst.DefinitionID)
	if err != nil {
		return domainwf.Actor{}, nil, nil, fmt.Errorf("load definition: %w", err)
	}
	if def == nil {
		return domainwf.Actor{}, nil, nil, fmt.Errorf("%w: definition %d", domainwf.ErrInvalidDefinition, inst.DefinitionID)
	}
	inst.Definition = def

	actor := domainwf.Actor{UserID: user.ID, Role: user.Role, TenantID: user.TenantID}
	return actor, inst, def, nil
}

func (e *engineImpl) loadActor(ctx context.Context, actorID string) (*entity.User, error) {
	user, err := e.userRepo.GetByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("load actor: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: actor %s", domainwf.ErrUnknownActor, actorID)
	}
	return user, nil
}

func (e *engineImpl) loadRelations(ctx context.Context, inst *entity.WorkflowInstance) error {
	def, err := e.definitionRepo.GetByID(ctx, inst.TenantID, inst.DefinitionID)
	if err != nil {
		return fmt.Errorf("load definition: %w", err)
	}
	inst.Definition = def

	execs, err := e.executionRepo.GetByInstanceID(ctx, inst.ID)
	if err != nil {
		return fmt.Errorf("load executions: %w", err)
	}
	inst.Executions = execs

	return nil
}

func (e *engineImpl) emit(ctx context.Context, eventType event.Type, inst *entity.WorkflowInstance, payload map[string]interface{}) {
	if e.dispatcher == nil || inst == nil {
		return
	}
	e.dispatcher.DispatchAsync(ctx, event.NewEvent(eventType, inst.TenantID, inst.ID, payload))
}

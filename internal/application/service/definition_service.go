package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/veritrail/veritrail/internal/application/port"
	"github.com/veritrail/veritrail/internal/domain/entity"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ErrDefinitionInUse is returned when modifying or deleting a definition
// that instances already reference. Such definitions may only be deactivated.
var ErrDefinitionInUse = errors.New("definition is referenced by workflow instances")

// ErrInvalidSteps is returned when a definition's step list fails validation
var ErrInvalidSteps = errors.New("invalid step configuration")

// DefinitionService manages workflow definitions (administrative CRUD).
// The engine only ever reads definitions; all writes go through here.
type DefinitionService interface {
	CreateDefinition(ctx context.Context, def *entity.WorkflowDefinition) error
	UpdateDefinition(ctx context.Context, def *entity.WorkflowDefinition) error
	DeactivateDefinition(ctx context.Context, tenantID, id int64) error
	DeleteDefinition(ctx context.Context, tenantID, id int64) error
	GetDefinition(ctx context.Context, tenantID, id int64) (*entity.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, tenantID int64, limit, offset int) ([]*entity.WorkflowDefinition, error)
}

type definitionServiceImpl struct {
	definitionRepo port.DefinitionRepository
	txManager      port.TransactionManager
	logger         Logger
}

// NewDefinitionService creates a new DefinitionService
func NewDefinitionService(
	definitionRepo port.DefinitionRepository,
	txManager port.TransactionManager,
	logger Logger,
) DefinitionService {
	return &definitionServiceImpl{
		definitionRepo: definitionRepo,
		txManager:      txManager,
		logger:         logger,
	}
}

// CreateDefinition validates and persists a definition with its steps
func (s *definitionServiceImpl) CreateDefinition(ctx context.Context, def *entity.WorkflowDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.definitionRepo.Create(txCtx, def)
	})
	if err != nil {
		s.logger.Error("Failed to create definition", "error", err, "tenant_id", def.TenantID, "name", def.Name)
		return err
	}

	s.logger.Info("Definition created", "id", def.ID, "tenant_id", def.TenantID, "name", def.Name)
	return nil
}

// UpdateDefinition replaces a definition's attributes and steps. Definitions
// referenced by instances are immutable and can only be deactivated.
func (s *definitionServiceImpl) UpdateDefinition(ctx context.Context, def *entity.WorkflowDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.definitionRepo.GetByID(txCtx, def.TenantID, def.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("definition %d not found", def.ID)
		}

		inUse, err := s.definitionRepo.HasInstances(txCtx, def.ID)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%w: definition %d", ErrDefinitionInUse, def.ID)
		}

		return s.definitionRepo.Update(txCtx, def)
	})
	if err != nil {
		s.logger.Error("Failed to update definition", "error", err, "id", def.ID)
		return err
	}

	s.logger.Info("Definition updated", "id", def.ID, "tenant_id", def.TenantID)
	return nil
}

// DeactivateDefinition clears the active flag; existing instances keep running
func (s *definitionServiceImpl) DeactivateDefinition(ctx context.Context, tenantID, id int64) error {
	if err := s.definitionRepo.Deactivate(ctx, tenantID, id); err != nil {
		s.logger.Error("Failed to deactivate definition", "error", err, "id", id)
		return err
	}

	s.logger.Info("Definition deactivated", "id", id, "tenant_id", tenantID)
	return nil
}

// DeleteDefinition removes a definition that no instance references
func (s *definitionServiceImpl) DeleteDefinition(ctx context.Context, tenantID, id int64) error {
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		inUse, err := s.definitionRepo.HasInstances(txCtx, id)
		if err != nil {
			return err
		}
		if inUse {
			return fmt.Errorf("%w: definition %d", ErrDefinitionInUse, id)
		}

		return s.definitionRepo.Delete(txCtx, tenantID, id)
	})
	if err != nil {
		s.logger.Error("Failed to delete definition", "error", err, "id", id)
		return err
	}

	s.logger.Info("Definition deleted", "id", id, "tenant_id", tenantID)
	return nil
}

// GetDefinition retrieves a definition with its steps
func (s *definitionServiceImpl) GetDefinition(ctx context.Context, tenantID, id int64) (*entity.WorkflowDefinition, error) {
	def, err := s.definitionRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		s.logger.Error("Failed to get definition", "error", err, "id", id)
		return nil, err
	}
	return def, nil
}

// ListDefinitions retrieves a paginated list of a tenant's definitions
func (s *definitionServiceImpl) ListDefinitions(ctx context.Context, tenantID int64, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	defs, err := s.definitionRepo.List(ctx, tenantID, limit, offset)
	if err != nil {
		s.logger.Error("Failed to list definitions", "error", err, "tenant_id", tenantID)
		return nil, err
	}
	return defs, nil
}

// validateDefinition checks the attributes the schema cannot express:
// step orders must be positive and unique, step types must be known.
func validateDefinition(def *entity.WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSteps)
	}
	if def.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidSteps)
	}

	seen := make(map[int]bool, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.StepOrder <= 0 {
			return fmt.Errorf("%w: step order %d must be positive", ErrInvalidSteps, step.StepOrder)
		}
		if seen[step.StepOrder] {
			return fmt.Errorf("%w: duplicate step order %d", ErrInvalidSteps, step.StepOrder)
		}
		seen[step.StepOrder] = true

		if !step.StepType.IsValid() {
			return fmt.Errorf("%w: unknown step type %q", ErrInvalidSteps, step.StepType)
		}
		if step.Name == "" {
			return fmt.Errorf("%w: step %d has no name", ErrInvalidSteps, step.StepOrder)
		}
	}

	return nil
}

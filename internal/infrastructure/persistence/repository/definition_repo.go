package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/veritrail/veritrail/internal/application/port"
	"github.com/veritrail/veritrail/internal/domain/entity"
	"github.com/veritrail/veritrail/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *sql.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

// Create persists a definition together with its steps
func (r *DefinitionRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	query := `
		INSERT INTO workflow_definitions (
			tenant_id, name, description, entity_type, active
		) VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		def.TenantID,
		def.Name,
		def.Description,
		def.EntityType,
		def.Active,
	)
	if err != nil {
		r.logger.Error("Failed to create definition", zap.Error(err))
		return fmt.Errorf("failed to create definition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	def.ID = id

	if err := r.insertSteps(ctx, def.ID, def.Steps); err != nil {
		return err
	}

	return nil
}

// GetByID retrieves a definition with its steps, scoped to the tenant
func (r *DefinitionRepository) GetByID(ctx context.Context, tenantID, id int64) (*entity.WorkflowDefinition, error) {
	query := `
		SELECT id, tenant_id, name, description, entity_type, active,
			created_at, updated_at
		FROM workflow_definitions
		WHERE tenant_id = ? AND id = ?
	`

	var def entity.WorkflowDefinition
	err := r.getExecutor(ctx).QueryRowContext(ctx, query, tenantID, id).Scan(
		&def.ID,
		&def.TenantID,
		&def.Name,
		&def.Description,
		&def.EntityType,
		&def.Active,
		&def.CreatedAt,
		&def.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get definition by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}

	steps, err := r.loadSteps(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	def.Steps = steps

	return &def, nil
}

// List retrieves a tenant's definitions with pagination. Steps are not loaded.
func (r *DefinitionRepository) List(ctx context.Context, tenantID int64, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	query := `
		SELECT id, tenant_id, name, description, entity_type, active,
			created_at, updated_at
		FROM workflow_definitions
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list definitions", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		var def entity.WorkflowDefinition
		err := rows.Scan(
			&def.ID,
			&def.TenantID,
			&def.Name,
			&def.Description,
			&def.EntityType,
			&def.Active,
			&def.CreatedAt,
			&def.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, &def)
	}

	return defs, rows.Err()
}

// Update replaces a definition's attributes and its full step list
func (r *DefinitionRepository) Update(ctx context.Context, def *entity.WorkflowDefinition) error {
	query := `
		UPDATE workflow_definitions
		SET name = ?, description = ?, entity_type = ?, active = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND id = ?
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		def.Name, def.Description, def.EntityType, def.Active,
		def.TenantID, def.ID)
	if err != nil {
		r.logger.Error("Failed to update definition", zap.Int64("id", def.ID), zap.Error(err))
		return fmt.Errorf("failed to update definition: %w", err)
	}

	if _, err := r.getExecutor(ctx).ExecContext(ctx,
		`DELETE FROM workflow_steps WHERE definition_id = ?`, def.ID); err != nil {
		return fmt.Errorf("failed to replace steps: %w", err)
	}

	return r.insertSteps(ctx, def.ID, def.Steps)
}

// Deactivate clears the active flag; running instances are unaffected
func (r *DefinitionRepository) Deactivate(ctx context.Context, tenantID, id int64) error {
	query := `
		UPDATE workflow_definitions
		SET active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = ? AND id = ?
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query, tenantID, id)
	if err != nil {
		r.logger.Error("Failed to deactivate definition", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to deactivate definition: %w", err)
	}

	return nil
}

// Delete removes a definition and its steps
func (r *DefinitionRepository) Delete(ctx context.Context, tenantID, id int64) error {
	if _, err := r.getExecutor(ctx).ExecContext(ctx,
		`DELETE FROM workflow_steps WHERE definition_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete steps: %w", err)
	}

	_, err := r.getExecutor(ctx).ExecContext(ctx,
		`DELETE FROM workflow_definitions WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		r.logger.Error("Failed to delete definition", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete definition: %w", err)
	}

	return nil
}

// HasInstances reports whether any instance references the definition
func (r *DefinitionRepository) HasInstances(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM workflow_instances WHERE definition_id = ?)`

	var exists bool
	err := r.getExecutor(ctx).QueryRowContext(ctx, query, id).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check definition instances", zap.Int64("id", id), zap.Error(err))
		return false, fmt.Errorf("failed to check definition instances: %w", err)
	}

	return exists, nil
}

func (r *DefinitionRepository) insertSteps(ctx context.Context, definitionID int64, steps []entity.WorkflowStep) error {
	query := `
		INSERT INTO workflow_steps (
			definition_id, step_order, step_type, name, description,
			required_roles, required_users, auto_advance, timeout_days,
			condition_expr, notification_template
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for i := range steps {
		step := &steps[i]

		roles, err := json.Marshal(step.RequiredRoles)
		if err != nil {
			return fmt.Errorf("failed to encode required roles: %w", err)
		}
		users, err := json.Marshal(step.RequiredUsers)
		if err != nil {
			return fmt.Errorf("failed to encode required users: %w", err)
		}

		result, err := r.getExecutor(ctx).ExecContext(ctx, query,
			definitionID,
			step.StepOrder,
			step.StepType.String(),
			step.Name,
			step.Description,
			string(roles),
			string(users),
			step.AutoAdvance,
			nullableInt(step.TimeoutDays),
			step.ConditionExpr,
			step.NotificationTemplate,
		)
		if err != nil {
			r.logger.Error("Failed to insert step",
				zap.Int64("definition_id", definitionID),
				zap.Int("step_order", step.StepOrder),
				zap.Error(err))
			return fmt.Errorf("failed to insert step: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		step.ID = id
		step.DefinitionID = definitionID
	}

	return nil
}

func (r *DefinitionRepository) loadSteps(ctx context.Context, definitionID int64) ([]entity.WorkflowStep, error) {
	query := `
		SELECT id, definition_id, step_order, step_type, name, description,
			required_roles, required_users, auto_advance, timeout_days,
			condition_expr, notification_template, created_at
		FROM workflow_steps
		WHERE definition_id = ?
		ORDER BY step_order ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, definitionID)
	if err != nil {
		r.logger.Error("Failed to load steps", zap.Int64("definition_id", definitionID), zap.Error(err))
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	defer rows.Close()

	var steps []entity.WorkflowStep
	for rows.Next() {
		var step entity.WorkflowStep
		var stepType string
		var roles, users string
		var timeoutDays sql.NullInt64

		err := rows.Scan(
			&step.ID,
			&step.DefinitionID,
			&step.StepOrder,
			&stepType,
			&step.Name,
			&step.Description,
			&roles,
			&users,
			&step.AutoAdvance,
			&timeoutDays,
			&step.ConditionExpr,
			&step.NotificationTemplate,
			&step.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step.StepType = entity.StepType(stepType)
		if err := json.Unmarshal([]byte(roles), &step.RequiredRoles); err != nil {
			return nil, fmt.Errorf("failed to decode required roles: %w", err)
		}
		if err := json.Unmarshal([]byte(users), &step.RequiredUsers); err != nil {
			return nil, fmt.Errorf("failed to decode required users: %w", err)
		}
		if timeoutDays.Valid {
			days := int(timeoutDays.Int64)
			step.TimeoutDays = &days
		}

		steps = append(steps, step)
	}

	return steps, rows.Err()
}

// getExecutor returns appropriate executor based on context
func (r *DefinitionRepository) getExecutor(ctx context.Context) executor {
	if tx, ok := sqlite.TxFromContext(ctx); ok {
		return tx
	}
	return r.db
}

// Verify interface compliance
var _ port.DefinitionRepository = (*DefinitionRepository)(nil)

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/veritrail/veritrail/internal/application/port"
	"github.com/veritrail/veritrail/internal/domain/entity"
	"github.com/veritrail/veritrail/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *sql.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `
	id, tenant_id, definition_id, entity_type, entity_id, status,
	current_step_order, started_by, cancelled_by, cancelled_at,
	completed_at, created_at, updated_at
`

// Create persists a new workflow instance
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (
			tenant_id, definition_id, entity_type, entity_id, status,
			current_step_order, started_by
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		instance.TenantID,
		instance.DefinitionID,
		instance.EntityType,
		instance.EntityID,
		instance.Status,
		nullableInt(instance.CurrentStepOrder),
		instance.StartedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create instance", zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	instance.ID = id
	return nil
}

// GetByID retrieves a workflow instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`

	instance, err := scanInstance(r.getExecutor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance by ID", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	return instance, nil
}

// GetActiveByEntity retrieves the non-terminal instance for an entity.
// The partial unique index on workflow_instances guarantees at most one.
func (r *InstanceRepository) GetActiveByEntity(ctx context.Context, tenantID int64, entityType, entityID string) (*entity.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
			AND status IN (?, ?)
	`

	instance, err := scanInstance(r.getExecutor(ctx).QueryRowContext(ctx, query,
		tenantID, entityType, entityID,
		entity.InstanceStatusDraft, entity.InstanceStatusPendingApproval,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active instance",
			zap.Int64("tenant_id", tenantID),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get active instance: %w", err)
	}

	return instance, nil
}

// UpdateProgress persists the outcome of a dispatch chain
func (r *InstanceRepository) UpdateProgress(ctx context.Context, id int64, status string, currentStepOrder *int, completedAt *time.Time) error {
	query := `
		UPDATE workflow_instances
		SET status = ?, current_step_order = ?, completed_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		status, nullableInt(currentStepOrder), nullableTime(completedAt), id)
	if err != nil {
		r.logger.Error("Failed to update instance progress",
			zap.Int64("id", id), zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to update instance progress: %w", err)
	}

	return nil
}

// MarkCancelled stamps the cancelling identity and sets the terminal status
func (r *InstanceRepository) MarkCancelled(ctx context.Context, id int64, cancelledBy string, at time.Time) error {
	query := `
		UPDATE workflow_instances
		SET status = ?, current_step_order = NULL, cancelled_by = ?,
			cancelled_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query,
		entity.InstanceStatusCancelled, cancelledBy, at, id)
	if err != nil {
		r.logger.Error("Failed to mark instance cancelled", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark instance cancelled: %w", err)
	}

	return nil
}

// List retrieves a tenant's workflow instances with pagination
func (r *InstanceRepository) List(ctx context.Context, tenantID int64, limit, offset int) ([]*entity.WorkflowInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM workflow_instances
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var currentStepOrder sql.NullInt64
	var cancelledBy sql.NullString
	var cancelledAt, completedAt sql.NullTime

	err := row.Scan(
		&instance.ID,
		&instance.TenantID,
		&instance.DefinitionID,
		&instance.EntityType,
		&instance.EntityID,
		&instance.Status,
		&currentStepOrder,
		&instance.StartedBy,
		&cancelledBy,
		&cancelledAt,
		&completedAt,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if currentStepOrder.Valid {
		order := int(currentStepOrder.Int64)
		instance.CurrentStepOrder = &order
	}
	if cancelledBy.Valid {
		instance.CancelledBy = cancelledBy.String
	}
	if cancelledAt.Valid {
		instance.CancelledAt = &cancelledAt.Time
	}
	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}

	return &instance, nil
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// getExecutor returns appropriate executor based on context
func (r *InstanceRepository) getExecutor(ctx context.Context) executor {
	if tx, ok := sqlite.TxFromContext(ctx); ok {
		return tx
	}
	return r.db
}

// executor interface covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Verify interface compliance
var _ port.InstanceRepository = (*InstanceRepository)(nil)

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

// StepExecutionRepository implements port.StepExecutionRepository.
// Execution rows are append-only; the only update is resolving a pending row.
type StepExecutionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStepExecutionRepository creates a new step execution repository
func NewStepExecutionRepository(db *sql.DB, logger *zap.Logger) port.StepExecutionRepository {
	return &StepExecutionRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a new execution row
func (r *StepExecutionRepository) Create(ctx context.Context, exec *entity.WorkflowStepExecution) error {
	query := `
		INSERT INTO workflow_step_executions (
			instance_id, step_order, step_type, status, executed_by,
			executed_at, comments
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		exec.InstanceID,
		exec.StepOrder,
		exec.StepType.String(),
		exec.Status,
		exec.ExecutedBy,
		nullableTime(exec.ExecutedAt),
		exec.Comments,
	)
	if err != nil {
		r.logger.Error("Failed to create step execution",
			zap.Int64("instance_id", exec.InstanceID),
			zap.Int("step_order", exec.StepOrder),
			zap.Error(err))
		return fmt.Errorf("failed to create step execution: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	exec.ID = id
	return nil
}

// GetByInstanceID retrieves all executions for an instance in creation order
func (r *StepExecutionRepository) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.WorkflowStepExecution, error) {
	query := `
		SELECT id, instance_id, step_order, step_type, status, executed_by,
			executed_at, comments, created_at
		FROM workflow_step_executions
		WHERE instance_id = ?
		ORDER BY id ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to list step executions", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list step executions: %w", err)
	}
	defer rows.Close()

	var execs []*entity.WorkflowStepExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step execution: %w", err)
		}
		execs = append(execs, exec)
	}

	return execs, rows.Err()
}

// GetPending retrieves the open execution for (instance, step order).
// The newest row wins; earlier rows for the same step are already resolved.
func (r *StepExecutionRepository) GetPending(ctx context.Context, instanceID int64, stepOrder int) (*entity.WorkflowStepExecution, error) {
	query := `
		SELECT id, instance_id, step_order, step_type, status, executed_by,
			executed_at, comments, created_at
		FROM workflow_step_executions
		WHERE instance_id = ? AND step_order = ? AND status = ?
		ORDER BY id DESC
		LIMIT 1
	`

	exec, err := scanExecution(r.getExecutor(ctx).QueryRowContext(ctx, query,
		instanceID, stepOrder, entity.ExecutionStatusPending))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get pending execution",
			zap.Int64("instance_id", instanceID),
			zap.Int("step_order", stepOrder),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get pending execution: %w", err)
	}

	return exec, nil
}

// Resolve closes an execution with a final status, executor and comments
func (r *StepExecutionRepository) Resolve(ctx context.Context, id int64, status, executedBy, comments string, at time.Time) error {
	query := `
		UPDATE workflow_step_executions
		SET status = ?, executed_by = ?, comments = ?, executed_at = ?
		WHERE id = ?
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query, status, executedBy, comments, at, id)
	if err != nil {
		r.logger.Error("Failed to resolve step execution",
			zap.Int64("id", id), zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to resolve step execution: %w", err)
	}

	return nil
}

func scanExecution(row rowScanner) (*entity.WorkflowStepExecution, error) {
	var exec entity.WorkflowStepExecution
	var stepType string
	var executedBy sql.NullString
	var executedAt sql.NullTime

	err := row.Scan(
		&exec.ID,
		&exec.InstanceID,
		&exec.StepOrder,
		&stepType,
		&exec.Status,
		&executedBy,
		&executedAt,
		&exec.Comments,
		&exec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	exec.StepType = entity.StepType(stepType)
	if executedBy.Valid {
		exec.ExecutedBy = executedBy.String
	}
	if executedAt.Valid {
		exec.ExecutedAt = &executedAt.Time
	}

	return &exec, nil
}

// getExecutor returns appropriate executor based on context
func (r *StepExecutionRepository) getExecutor(ctx context.Context) executor {
	if tx, ok := sqlite.TxFromContext(ctx); ok {
		return tx
	}
	return r.db
}

// Verify interface compliance
var _ port.StepExecutionRepository = (*StepExecutionRepository)(nil)

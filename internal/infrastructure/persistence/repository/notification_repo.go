package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/veritrail/veritrail/internal/application/port"
	"github.com/veritrail/veritrail/internal/domain/entity"
	"github.com/veritrail/veritrail/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create records an outbound notification request
func (r *NotificationRepository) Create(ctx context.Context, notification *entity.OutboundNotification) error {
	query := `
		INSERT INTO outbound_notifications (
			instance_id, step_order, template_ref, recipients, status
		) VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.getExecutor(ctx).ExecContext(ctx, query,
		notification.InstanceID,
		notification.StepOrder,
		notification.TemplateRef,
		notification.Recipients,
		notification.Status,
	)
	if err != nil {
		r.logger.Error("Failed to create notification", zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	notification.ID = id
	return nil
}

// GetByInstanceID retrieves all notifications recorded for an instance
func (r *NotificationRepository) GetByInstanceID(ctx context.Context, instanceID int64) ([]*entity.OutboundNotification, error) {
	query := `
		SELECT id, instance_id, step_order, template_ref, recipients,
			status, error_message, sent_at, created_at
		FROM outbound_notifications
		WHERE instance_id = ?
		ORDER BY id ASC
	`

	rows, err := r.getExecutor(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*entity.OutboundNotification
	for rows.Next() {
		var n entity.OutboundNotification
		var errorMessage sql.NullString
		var sentAt sql.NullTime

		err := rows.Scan(
			&n.ID,
			&n.InstanceID,
			&n.StepOrder,
			&n.TemplateRef,
			&n.Recipients,
			&n.Status,
			&errorMessage,
			&sentAt,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		if errorMessage.Valid {
			n.ErrorMessage = errorMessage.String
		}
		if sentAt.Valid {
			n.SentAt = &sentAt.Time
		}

		notifications = append(notifications, &n)
	}

	return notifications, rows.Err()
}

// MarkSent stamps a notification as delivered
func (r *NotificationRepository) MarkSent(ctx context.Context, id int64) error {
	query := `
		UPDATE outbound_notifications
		SET status = ?, sent_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query, entity.NotificationStatusSent, id)
	if err != nil {
		r.logger.Error("Failed to mark notification sent", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	return nil
}

// UpdateStatus sets a notification's status and error message
func (r *NotificationRepository) UpdateStatus(ctx context.Context, id int64, status, errorMsg string) error {
	query := `
		UPDATE outbound_notifications
		SET status = ?, error_message = ?
		WHERE id = ?
	`

	_, err := r.getExecutor(ctx).ExecContext(ctx, query, status, errorMsg, id)
	if err != nil {
		r.logger.Error("Failed to update notification status",
			zap.Int64("id", id), zap.String("status", status), zap.Error(err))
		return fmt.Errorf("failed to update notification status: %w", err)
	}

	return nil
}

// getExecutor returns appropriate executor based on context
func (r *NotificationRepository) getExecutor(ctx context.Context) executor {
	if tx, ok := sqlite.TxFromContext(ctx); ok {
		return tx
	}
	return r.db
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)

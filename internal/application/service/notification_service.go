package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/veritrail/veritrail/internal/application/dispatcher"
	"github.com/veritrail/veritrail/internal/application/port"
	"github.com/veritrail/veritrail/internal/domain/entity"
	"github.com/veritrail/veritrail/internal/domain/event"
	domainwf "github.com/veritrail/veritrail/internal/domain/workflow"
)

// notificationServiceImpl records notification requests and hands them to the
// configured transport. It implements the engine's NotificationDispatcher.
type notificationServiceImpl struct {
	notificationRepo port.NotificationRepository
	notifier         port.Notifier
	events           dispatcher.Dispatcher
	logger           Logger
}

// NotificationOption configures the notification service
type NotificationOption func(*notificationServiceImpl)

// WithEventDispatcher announces recorded requests as notification.requested
// events
func WithEventDispatcher(d dispatcher.Dispatcher) NotificationOption {
	return func(s *notificationServiceImpl) {
		s.events = d
	}
}

// NewNotificationService creates the dispatcher used by NOTIFICATION steps
func NewNotificationService(
	notificationRepo port.NotificationRepository,
	notifier port.Notifier,
	logger Logger,
	opts ...NotificationOption,
) domainwf.NotificationDispatcher {
	s := &notificationServiceImpl{
		notificationRepo: notificationRepo,
		notifier:         notifier,
		logger:           logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Notify records the outbound notification, then attempts delivery.
// Recording failures surface to the engine; delivery failures do not. The
// step is complete once the request is on record, and the failure is kept
// on the notification row for operators.
func (s *notificationServiceImpl) Notify(ctx context.Context, instance *entity.WorkflowInstance, step *entity.WorkflowStep) error {
	notification := &entity.OutboundNotification{
		InstanceID:  instance.ID,
		StepOrder:   step.StepOrder,
		TemplateRef: step.NotificationTemplate,
		Recipients:  strings.Join(step.RequiredRoles, ","),
		Status:      entity.NotificationStatusPending,
	}

	if err := s.notificationRepo.Create(ctx, notification); err != nil {
		return fmt.Errorf("record notification: %w", err)
	}

	if s.events != nil {
		s.events.DispatchAsync(ctx, event.NewEvent(event.TypeNotificationRequested, instance.TenantID, instance.ID, map[string]interface{}{
			"step_order": step.StepOrder,
			"template":   step.NotificationTemplate,
		}))
	}

	if s.notifier == nil {
		return nil
	}

	if err := s.notifier.Send(ctx, notification); err != nil {
		s.logger.Error("Notification delivery failed",
			"error", err,
			"instance_id", instance.ID,
			"step_order", step.StepOrder)

		if uerr := s.notificationRepo.UpdateStatus(ctx, notification.ID, entity.NotificationStatusFailed, err.Error()); uerr != nil {
			s.logger.Error("Failed to record notification failure", "error", uerr, "id", notification.ID)
		}
		return nil
	}

	if err := s.notificationRepo.MarkSent(ctx, notification.ID); err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}

	s.logger.Info("Notification dispatched",
		"instance_id", instance.ID,
		"step_order", step.StepOrder,
		"template", step.NotificationTemplate)

	return nil
}

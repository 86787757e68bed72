package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/veritrail/veritrail/internal/application/port"
	"github.com/veritrail/veritrail/internal/domain/entity"
	"go.uber.org/zap"
)

// WebhookNotifier delivers notification requests to an external endpoint.
// Actual fan-out to recipients (mail, chat) is the receiving system's job.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier creates a notifier that POSTs to the given URL
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type webhookPayload struct {
	InstanceID  int64  `json:"instance_id"`
	StepOrder   int    `json:"step_order"`
	TemplateRef string `json:"template_ref,omitempty"`
	Recipients  string `json:"recipients,omitempty"`
}

// Send delivers the notification request as a JSON POST
func (n *WebhookNotifier) Send(ctx context.Context, notification *entity.OutboundNotification) error {
	payload := webhookPayload{
		InstanceID:  notification.InstanceID,
		StepOrder:   notification.StepOrder,
		TemplateRef: notification.TemplateRef,
		Recipients:  notification.Recipients,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}

	n.logger.Debug("Notification delivered",
		zap.Int64("instance_id", notification.InstanceID),
		zap.Int("step_order", notification.StepOrder))

	return nil
}

// LogNotifier writes notification requests to the log only. Used when no
// webhook endpoint is configured, typically in development.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Send logs the notification request
func (n *LogNotifier) Send(ctx context.Context, notification *entity.OutboundNotification) error {
	n.logger.Info("Notification requested",
		zap.Int64("instance_id", notification.InstanceID),
		zap.Int("step_order", notification.StepOrder),
		zap.String("template_ref", notification.TemplateRef),
		zap.String("recipients", notification.Recipients))
	return nil
}

// Verify interface compliance
var (
	_ port.Notifier = (*WebhookNotifier)(nil)
	_ port.Notifier = (*LogNotifier)(nil)
)

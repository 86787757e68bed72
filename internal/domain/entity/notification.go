package entity

import "time"

// OutboundNotification records a notification requested by a NOTIFICATION
// step. The engine only decides that the notification was requested; actual
// delivery is an external collaborator's job.
type OutboundNotification struct {
	ID           int64      `json:"id"`
	InstanceID   int64      `json:"instance_id"`
	StepOrder    int        `json:"step_order"`
	TemplateRef  string     `json:"template_ref,omitempty"`
	Recipients   string     `json:"recipients,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

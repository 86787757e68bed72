package entity

// Status constants for WorkflowInstance
const (
	InstanceStatusDraft           = "DRAFT"
	InstanceStatusPendingApproval = "PENDING_APPROVAL"
	InstanceStatusApproved        = "APPROVED"
	InstanceStatusRejected        = "REJECTED"
	InstanceStatusCancelled       = "CANCELLED"
)

// Status constants for WorkflowStepExecution
const (
	ExecutionStatusPending  = "PENDING"
	ExecutionStatusApproved = "APPROVED"
	ExecutionStatusRejected = "REJECTED"
)

// Notification status constants
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

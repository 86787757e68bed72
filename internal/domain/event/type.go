package event

// Type identifies the type of domain event
type Type string

const (
	TypeWorkflowStarted       Type = "workflow.started"
	TypeWorkflowCompleted     Type = "workflow.completed"
	TypeWorkflowRejected      Type = "workflow.rejected"
	TypeWorkflowCancelled     Type = "workflow.cancelled"
	TypeStepApproved          Type = "step.approved"
	TypeStepParked            Type = "step.parked"
	TypeNotificationRequested Type = "notification.requested"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeWorkflowStarted,
		TypeWorkflowCompleted,
		TypeWorkflowRejected,
		TypeWorkflowCancelled,
		TypeStepApproved,
		TypeStepParked,
		TypeNotificationRequested:
		return true
	default:
		return false
	}
}

package workflow

// Trigger represents an action that drives an instance state transition
type Trigger string

const (
	// TriggerAwaitApproval parks the instance awaiting an external approver
	TriggerAwaitApproval Trigger = "AWAIT_APPROVAL"

	// TriggerComplete marks the final step as resolved successfully
	TriggerComplete Trigger = "COMPLETE"

	// TriggerReject terminates the instance with a rejection
	TriggerReject Trigger = "REJECT"

	// TriggerCancel terminates the instance on the caller's request
	TriggerCancel Trigger = "CANCEL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

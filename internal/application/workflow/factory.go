package workflow

import (
	domainwf "github.com/veritrail/veritrail/internal/domain/workflow"
)

// BuildInstanceStateMachine configures the instance status machine.
//
// DRAFT and PENDING_APPROVAL are the only non-terminal states; APPROVED,
// REJECTED and CANCELLED are final. The PENDING_APPROVAL self-transition
// covers re-dispatch of a parked step.
func BuildInstanceStateMachine(initial domainwf.State) domainwf.StateMachine {
	builder := domainwf.NewBuilder()

	builder.Configure(domainwf.StateDraft).
		Permit(domainwf.TriggerAwaitApproval, domainwf.StatePendingApproval).
		Permit(domainwf.TriggerComplete, domainwf.StateApproved).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	builder.Configure(domainwf.StatePendingApproval).
		Permit(domainwf.TriggerAwaitApproval, domainwf.StatePendingApproval).
		Permit(domainwf.TriggerComplete, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	return builder.Build(initial)
}

package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestMachine(initial State) StateMachine {
	builder := NewBuilder()

	builder.Configure(StateDraft).
		Permit(TriggerAwaitApproval, StatePendingApproval).
		Permit(TriggerComplete, StateApproved).
		Permit(TriggerCancel, StateCancelled)

	builder.Configure(StatePendingApproval).
		Permit(TriggerAwaitApproval, StatePendingApproval).
		Permit(TriggerComplete, StateApproved).
		Permit(TriggerReject, StateRejected).
		Permit(TriggerCancel, StateCancelled)

	return builder.Build(initial)
}

func TestStateMachine_Transitions(t *testing.T) {
	tests := []struct {
		name      string
		initial   State
		trigger   Trigger
		wantState State
		wantErr   bool
	}{
		{
			name:      "draft to pending approval",
			initial:   StateDraft,
			trigger:   TriggerAwaitApproval,
			wantState: StatePendingApproval,
		},
		{
			name:      "draft completes directly",
			initial:   StateDraft,
			trigger:   TriggerComplete,
			wantState: StateApproved,
		},
		{
			name:      "draft cancelled",
			initial:   StateDraft,
			trigger:   TriggerCancel,
			wantState: StateCancelled,
		},
		{
			name:      "pending approval self transition",
			initial:   StatePendingApproval,
			trigger:   TriggerAwaitApproval,
			wantState: StatePendingApproval,
		},
		{
			name:      "pending approval completes",
			initial:   StatePendingApproval,
			trigger:   TriggerComplete,
			wantState: StateApproved,
		},
		{
			name:      "pending approval rejected",
			initial:   StatePendingApproval,
			trigger:   TriggerReject,
			wantState: StateRejected,
		},
		{
			name:    "draft cannot be rejected",
			initial: StateDraft,
			trigger: TriggerReject,
			wantErr: true,
		},
		{
			name:    "approved is terminal",
			initial: StateApproved,
			trigger: TriggerCancel,
			wantErr: true,
		},
		{
			name:    "rejected is terminal",
			initial: StateRejected,
			trigger: TriggerAwaitApproval,
			wantErr: true,
		},
		{
			name:    "cancelled is terminal",
			initial: StateCancelled,
			trigger: TriggerComplete,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			machine := buildTestMachine(tt.initial)

			err := machine.Fire(context.Background(), tt.trigger)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.initial, machine.State(), "state must not change on a denied trigger")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantState, machine.State())
		})
	}
}

func TestStateMachine_CanFire(t *testing.T) {
	machine := buildTestMachine(StateDraft)

	assert.True(t, machine.CanFire(TriggerAwaitApproval))
	assert.True(t, machine.CanFire(TriggerCancel))
	assert.False(t, machine.CanFire(TriggerReject))

	require.NoError(t, machine.Fire(context.Background(), TriggerAwaitApproval))
	assert.True(t, machine.CanFire(TriggerReject))
}

func TestStateMachine_GuardedTransition(t *testing.T) {
	allow := false

	builder := NewBuilder()
	builder.Configure(StateDraft).
		PermitIf(TriggerComplete, StateApproved, func(ctx context.Context) bool { return allow })

	machine := builder.Build(StateDraft)

	err := machine.Fire(context.Background(), TriggerComplete)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGuardFailed)
	assert.Equal(t, StateDraft, machine.State())

	allow = true
	require.NoError(t, machine.Fire(context.Background(), TriggerComplete))
	assert.Equal(t, StateApproved, machine.State())
}

func TestStateMachine_BuildIsolation(t *testing.T) {
	builder := NewBuilder()
	builder.Configure(StateDraft).Permit(TriggerComplete, StateApproved)

	first := builder.Build(StateDraft)
	second := builder.Build(StateDraft)

	require.NoError(t, first.Fire(context.Background(), TriggerComplete))
	assert.Equal(t, StateApproved, first.State())
	assert.Equal(t, StateDraft, second.State())
}

func TestStateMachine_PermittedTriggers(t *testing.T) {
	machine := buildTestMachine(StatePendingApproval)

	triggers := machine.PermittedTriggers()
	assert.ElementsMatch(t, []Trigger{
		TriggerAwaitApproval,
		TriggerComplete,
		TriggerReject,
		TriggerCancel,
	}, triggers)
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StateDraft.IsTerminal())
	assert.False(t, StatePendingApproval.IsTerminal())
	assert.True(t, StateApproved.IsTerminal())
	assert.True(t, StateRejected.IsTerminal())
	assert.True(t, StateCancelled.IsTerminal())
}

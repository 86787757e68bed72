package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veritrail/veritrail/internal/domain/entity"
)

type recordingNotifier struct {
	calls int
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, instance *entity.WorkflowInstance, step *entity.WorkflowStep) error {
	n.calls++
	return n.err
}

type fixedEvaluator struct {
	result bool
	err    error
}

func (e *fixedEvaluator) Evaluate(ctx context.Context, expression string, instance *entity.WorkflowInstance) (bool, error) {
	return e.result, e.err
}

func twoStepInstance(firstType, secondType entity.StepType) (*entity.WorkflowInstance, *entity.WorkflowStep, *entity.WorkflowStep) {
	def := &entity.WorkflowDefinition{
		ID: 1,
		Steps: []entity.WorkflowStep{
			{StepOrder: 1, StepType: firstType, Name: "first"},
			{StepOrder: 2, StepType: secondType, Name: "second"},
		},
	}
	inst := &entity.WorkflowInstance{ID: 10, Definition: def}
	return inst, &def.Steps[0], &def.Steps[1]
}

func TestApprovalHandler_AuthorizedAdvances(t *testing.T) {
	inst, first, _ := twoStepInstance(entity.StepTypeApproval, entity.StepTypeApproval)
	first.RequiredRoles = []string{"manager"}

	set := NewHandlerSet(nil, nil)
	handler, err := set.For(entity.StepTypeApproval)
	require.NoError(t, err)

	result, err := handler.Execute(context.Background(), first, inst, Actor{UserID: "u1", Role: "manager"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, StatePendingApproval, result.Status)
	require.NotNil(t, result.NextStepOrder)
	assert.Equal(t, 2, *result.NextStepOrder)
}

func TestApprovalHandler_UnauthorizedParks(t *testing.T) {
	inst, first, _ := twoStepInstance(entity.StepTypeApproval, entity.StepTypeApproval)
	first.RequiredRoles = []string{"manager"}

	set := NewHandlerSet(nil, nil)
	handler, _ := set.For(entity.StepTypeApproval)

	result, err := handler.Execute(context.Background(), first, inst, Actor{UserID: "u1", Role: "intern"})
	require.NoError(t, err, "a failed gate is a negative result, not an error")

	assert.False(t, result.Success)
	assert.Equal(t, StatePendingApproval, result.Status)
	require.NotNil(t, result.NextStepOrder)
	assert.Equal(t, first.StepOrder, *result.NextStepOrder, "parked step keeps pointing at itself")
}

func TestApprovalHandler_LastStepCompletes(t *testing.T) {
	def := &entity.WorkflowDefinition{
		Steps: []entity.WorkflowStep{{StepOrder: 1, StepType: entity.StepTypeApproval, Name: "only"}},
	}
	inst := &entity.WorkflowInstance{Definition: def}

	set := NewHandlerSet(nil, nil)
	handler, _ := set.For(entity.StepTypeApproval)

	result, err := handler.Execute(context.Background(), &def.Steps[0], inst, Actor{UserID: "u1"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, StateApproved, result.Status)
	assert.Nil(t, result.NextStepOrder)
}

func TestNotificationHandler_DispatchesAndAdvances(t *testing.T) {
	inst, first, _ := twoStepInstance(entity.StepTypeNotification, entity.StepTypeApproval)

	notifier := &recordingNotifier{}
	set := NewHandlerSet(notifier, nil)
	handler, _ := set.For(entity.StepTypeNotification)

	result, err := handler.Execute(context.Background(), first, inst, Actor{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 1, notifier.calls)
	assert.True(t, result.Success)
	require.NotNil(t, result.NextStepOrder)
	assert.Equal(t, 2, *result.NextStepOrder)
}

func TestNotificationHandler_DispatchErrorSurfaces(t *testing.T) {
	inst, first, _ := twoStepInstance(entity.StepTypeNotification, entity.StepTypeApproval)

	notifier := &recordingNotifier{err: errors.New("broker down")}
	set := NewHandlerSet(notifier, nil)
	handler, _ := set.For(entity.StepTypeNotification)

	_, err := handler.Execute(context.Background(), first, inst, Actor{UserID: "u1"})
	require.Error(t, err)
}

func TestConditionHandler_TrueAdvances(t *testing.T) {
	inst, first, _ := twoStepInstance(entity.StepTypeCondition, entity.StepTypeApproval)
	first.ConditionExpr = "amount < 1000"

	set := NewHandlerSet(nil, &fixedEvaluator{result: true})
	handler, _ := set.For(entity.StepTypeCondition)

	result, err := handler.Execute(context.Background(), first, inst, Actor{UserID: "u1"})
	require.NoError(t, err)

	assert.True(t, result.Success)
	require.NotNil(t, result.NextStepOrder)
	assert.Equal(t, 2, *result.NextStepOrder)
}

func TestConditionHandler_FalseParks(t *testing.T) {
	inst, first, _ := twoStepInstance(entity.StepTypeCondition, entity.StepTypeApproval)

	set := NewHandlerSet(nil, &fixedEvaluator{result: false})
	handler, _ := set.For(entity.StepTypeCondition)

	result, err := handler.Execute(context.Background(), first, inst, Actor{UserID: "u1"})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, StatePendingApproval, result.Status)
	require.NotNil(t, result.NextStepOrder)
	assert.Equal(t, 1, *result.NextStepOrder)
}

func TestConditionHandler_DefaultEvaluatorPasses(t *testing.T) {
	inst, first, _ := twoStepInstance(entity.StepTypeCondition, entity.StepTypeApproval)

	// nil evaluator falls back to AlwaysTrueEvaluator
	set := NewHandlerSet(nil, nil)
	handler, _ := set.For(entity.StepTypeCondition)

	result, err := handler.Execute(context.Background(), first, inst, Actor{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestHandlerSet_UnknownType(t *testing.T) {
	set := NewHandlerSet(nil, nil)

	_, err := set.For(entity.StepType("TIMER"))
	require.Error(t, err)
}

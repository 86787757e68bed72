package workflow

import (
	"context"
	"fmt"

	"github.com/veritrail/veritrail/internal/domain/entity"
)

// StepResult is the outcome of dispatching one step.
//
// NextStepOrder carries the step the instance should point at afterwards:
// the following step on success, the same step when an approval parked, and
// nil when the chain completed.
type StepResult struct {
	Success       bool
	NextStepOrder *int
	Status        State
	Message       string
}

// StepHandler resolves one step type. The set of implementations is closed:
// one per step type, selected exhaustively by HandlerSet.For.
type StepHandler interface {
	Type() entity.StepType
	Execute(ctx context.Context, step *entity.WorkflowStep, instance *entity.WorkflowInstance, actor Actor) (StepResult, error)
}

// NotificationDispatcher hands a notification step off to the delivery
// subsystem. Dispatch failures are the implementation's to absorb or surface;
// the engine treats the hand-off as fire-and-forget.
type NotificationDispatcher interface {
	Notify(ctx context.Context, instance *entity.WorkflowInstance, step *entity.WorkflowStep) error
}

// ConditionEvaluator evaluates a step's opaque condition expression.
// Injected as a capability so a real rule engine can replace the default.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, expression string, instance *entity.WorkflowInstance) (bool, error)
}

// AlwaysTrueEvaluator is the default condition evaluator; every condition
// step passes until a real evaluator is plugged in.
type AlwaysTrueEvaluator struct{}

// Evaluate always reports true.
func (AlwaysTrueEvaluator) Evaluate(ctx context.Context, expression string, instance *entity.WorkflowInstance) (bool, error) {
	return true, nil
}

// HandlerSet holds the step handlers keyed by step type
type HandlerSet struct {
	handlers map[entity.StepType]StepHandler
}

// NewHandlerSet builds the closed set of step handlers with their
// collaborators injected.
func NewHandlerSet(notifier NotificationDispatcher, evaluator ConditionEvaluator) *HandlerSet {
	if evaluator == nil {
		evaluator = AlwaysTrueEvaluator{}
	}

	return &HandlerSet{
		handlers: map[entity.StepType]StepHandler{
			entity.StepTypeApproval:     &approvalHandler{},
			entity.StepTypeNotification: &notificationHandler{notifier: notifier},
			entity.StepTypeCondition:    &conditionHandler{evaluator: evaluator},
		},
	}
}

// For returns the handler for a step type
func (s *HandlerSet) For(stepType entity.StepType) (StepHandler, error) {
	handler, ok := s.handlers[stepType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for step type %s", stepType)
	}
	return handler, nil
}

// advanceResult builds the result for a step that resolved successfully:
// the instance moves to the next step, or completes when this was the last.
func advanceResult(step *entity.WorkflowStep, instance *entity.WorkflowInstance, message string) StepResult {
	next, ok := instance.Definition.NextStepOrder(step.StepOrder)
	if !ok {
		return StepResult{
			Success: true,
			Status:  StateApproved,
			Message: message,
		}
	}

	return StepResult{
		Success:       true,
		NextStepOrder: &next,
		Status:        StatePendingApproval,
		Message:       message,
	}
}

// approvalHandler gates the step on the acting identity. An authorization
// failure is a negative result, not an error: the step stays parked so the
// right approver can resolve it later.
type approvalHandler struct{}

func (h *approvalHandler) Type() entity.StepType {
	return entity.StepTypeApproval
}

func (h *approvalHandler) Execute(ctx context.Context, step *entity.WorkflowStep, instance *entity.WorkflowInstance, actor Actor) (StepResult, error) {
	if !Authorized(step, actor) {
		order := step.StepOrder
		return StepResult{
			Success:       false,
			NextStepOrder: &order,
			Status:        StatePendingApproval,
			Message:       fmt.Sprintf("step %q awaiting an authorized approver", step.Name),
		}, nil
	}

	return advanceResult(step, instance, fmt.Sprintf("step %q approved", step.Name)), nil
}

// notificationHandler always succeeds; delivery is delegated and the step
// advances exactly like a successful approval.
type notificationHandler struct {
	notifier NotificationDispatcher
}

func (h *notificationHandler) Type() entity.StepType {
	return entity.StepTypeNotification
}

func (h *notificationHandler) Execute(ctx context.Context, step *entity.WorkflowStep, instance *entity.WorkflowInstance, actor Actor) (StepResult, error) {
	if h.notifier != nil {
		if err := h.notifier.Notify(ctx, instance, step); err != nil {
			return StepResult{}, fmt.Errorf("dispatch notification for step %d: %w", step.StepOrder, err)
		}
	}

	return advanceResult(step, instance, fmt.Sprintf("notification %q dispatched", step.Name)), nil
}

// conditionHandler evaluates the step's opaque expression through the
// injected evaluator and advances on true.
type conditionHandler struct {
	evaluator ConditionEvaluator
}

func (h *conditionHandler) Type() entity.StepType {
	return entity.StepTypeCondition
}

func (h *conditionHandler) Execute(ctx context.Context, step *entity.WorkflowStep, instance *entity.WorkflowInstance, actor Actor) (StepResult, error) {
	ok, err := h.evaluator.Evaluate(ctx, step.ConditionExpr, instance)
	if err != nil {
		return StepResult{}, fmt.Errorf("evaluate condition for step %d: %w", step.StepOrder, err)
	}

	if !ok {
		order := step.StepOrder
		return StepResult{
			Success:       false,
			NextStepOrder: &order,
			Status:        StatePendingApproval,
			Message:       fmt.Sprintf("condition %q not met", step.Name),
		}, nil
	}

	return advanceResult(step, instance, fmt.Sprintf("condition %q satisfied", step.Name)), nil
}

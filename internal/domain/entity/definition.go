package entity

import "time"

// StepType identifies the kind of work a workflow step performs
type StepType string

const (
	StepTypeApproval     StepType = "APPROVAL"
	StepTypeNotification StepType = "NOTIFICATION"
	StepTypeCondition    StepType = "CONDITION"
)

// String returns the string representation of the step type
func (t StepType) String() string {
	return string(t)
}

// IsValid returns true if the step type is one of the defined constants
func (t StepType) IsValid() bool {
	switch t {
	case StepTypeApproval, StepTypeNotification, StepTypeCondition:
		return true
	default:
		return false
	}
}

// WorkflowDefinition is a tenant-owned, reusable approval template.
// Definitions are immutable while instances reference them; the persistence
// layer refuses deletion and only permits deactivation in that case.
type WorkflowDefinition struct {
	ID          int64          `json:"id"`
	TenantID    int64          `json:"tenant_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	EntityType  string         `json:"entity_type"`
	Active      bool           `json:"active"`
	Steps       []WorkflowStep `json:"steps,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WorkflowStep is one ordered stage of a definition. StepOrder is a positive
// integer, unique within the definition, and defines the linear sequence.
type WorkflowStep struct {
	ID           int64    `json:"id"`
	DefinitionID int64    `json:"definition_id"`
	StepOrder    int      `json:"step_order"`
	StepType     StepType `json:"step_type"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`

	// Authorization constraints for APPROVAL steps. Empty sets mean anyone
	// may act; otherwise matching either set is sufficient.
	RequiredRoles []string `json:"required_roles,omitempty"`
	RequiredUsers []string `json:"required_users,omitempty"`

	// AutoAdvance causes the engine to proceed to the next step automatically
	// when this step succeeds.
	AutoAdvance bool `json:"auto_advance"`

	// TimeoutDays is advisory only; enforcement belongs to an external
	// expiry sweeper, not the engine.
	TimeoutDays *int `json:"timeout_days,omitempty"`

	// ConditionExpr is an opaque payload evaluated by the condition handler.
	ConditionExpr string `json:"condition_expr,omitempty"`

	// NotificationTemplate references the template used by NOTIFICATION steps.
	NotificationTemplate string `json:"notification_template,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// StepAt returns the step with the given order, or nil if absent.
func (d *WorkflowDefinition) StepAt(order int) *WorkflowStep {
	for i := range d.Steps {
		if d.Steps[i].StepOrder == order {
			return &d.Steps[i]
		}
	}
	return nil
}

// NextStepOrder returns the smallest step order strictly greater than the
// given order. The second return value is false when no such step exists,
// meaning the given step is the last one.
func (d *WorkflowDefinition) NextStepOrder(after int) (int, bool) {
	next := 0
	found := false
	for i := range d.Steps {
		o := d.Steps[i].StepOrder
		if o > after && (!found || o < next) {
			next = o
			found = true
		}
	}
	return next, found
}

// FirstStepOrder returns the smallest step order in the definition.
// The second return value is false for zero-step definitions.
func (d *WorkflowDefinition) FirstStepOrder() (int, bool) {
	first := 0
	found := false
	for i := range d.Steps {
		o := d.Steps[i].StepOrder
		if !found || o < first {
			first = o
			found = true
		}
	}
	return first, found
}

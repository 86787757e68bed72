package entity

import "time"

// WorkflowInstance is one run of a definition against one business entity.
// At most one instance in a non-terminal status may exist per
// (tenant, entity type, entity id) tuple.
type WorkflowInstance struct {
	ID           int64  `json:"id"`
	TenantID     int64  `json:"tenant_id"`
	DefinitionID int64  `json:"definition_id"`
	EntityType   string `json:"entity_type"`
	EntityID     string `json:"entity_id"`
	Status       string `json:"status"`

	// CurrentStepOrder is nil once the instance reaches a terminal status.
	CurrentStepOrder *int `json:"current_step_order,omitempty"`

	StartedBy   string     `json:"started_by"`
	CancelledBy string     `json:"cancelled_by,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Loaded relations, populated by read accessors.
	Definition *WorkflowDefinition      `json:"definition,omitempty"`
	Executions []*WorkflowStepExecution `json:"executions,omitempty"`
}

// WorkflowStepExecution is the append-only audit record of one attempt at
// one step within one instance. Rows are never deleted; re-entrant dispatch
// of the same step appends a new row.
type WorkflowStepExecution struct {
	ID         int64    `json:"id"`
	InstanceID int64    `json:"instance_id"`
	StepOrder  int      `json:"step_order"`
	StepType   StepType `json:"step_type"`
	Status     string   `json:"status"`

	// ExecutedBy and ExecutedAt are set only when the execution resolves.
	ExecutedBy string     `json:"executed_by,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`

	Comments  string    `json:"comments,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

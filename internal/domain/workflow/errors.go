package workflow

import "errors"

var (
	// ErrInvalidDefinition is returned when the referenced definition is
	// missing, inactive, owned by another tenant, or declared for a
	// different entity type
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrDuplicateActiveWorkflow is returned when another non-terminal
	// instance already exists for the same entity
	ErrDuplicateActiveWorkflow = errors.New("active workflow already exists for entity")

	// ErrInstanceNotFound is returned when the instance is missing or
	// belongs to another tenant
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrStepNotFound is returned when the target step order does not exist
	// in the instance's definition
	ErrStepNotFound = errors.New("workflow step not found")

	// ErrWrongStep is returned when the caller acts on a step that is not
	// the instance's current pending step
	ErrWrongStep = errors.New("step is not the instance's current step")

	// ErrAlreadyTerminal is returned when acting on an instance that has
	// reached a terminal status
	ErrAlreadyTerminal = errors.New("workflow instance already terminal")

	// ErrUnknownActor is returned when the acting identity cannot be loaded
	ErrUnknownActor = errors.New("unknown actor")

	// ErrInvalidTransition is returned when a state transition is not allowed
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")
)

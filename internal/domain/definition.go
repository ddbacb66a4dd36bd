package domain

import (
	"sort"
	"time"
)

// Role is an opaque approver role referenced by step definitions.
type Role struct {
	ID          string
	Name        string
	Description string
	Audit
}

// TimeLimitConfig bounds how long a step may stay pending once it becomes
// the current step.
type TimeLimitConfig struct {
	MaxMinutes             int
	AutoApproveOnThreshold bool
}

// Duration returns the configured limit as a time.Duration.
func (c TimeLimitConfig) Duration() time.Duration {
	return time.Duration(c.MaxMinutes) * time.Minute
}

// StepDefinition is one node of a workflow definition.
type StepDefinition struct {
	ID          string
	Name        string
	Description string

	// Order positions the step when instances are materialized. Nil orders
	// sort after every explicit order.
	Order *int

	RequiredRoles []Role
	TimeLimit     *TimeLimitConfig

	// Branch targets; empty means the workflow completes on that decision.
	ApprovedNextStepID string
	RejectedNextStepID string
}

// NextStepID returns the branch target for the given decision.
func (s *StepDefinition) NextStepID(d Decision) string {
	if d == DecisionApproved {
		return s.ApprovedNextStepID
	}
	return s.RejectedNextStepID
}

// WorkflowDefinition describes a workflow's steps and branching rules.
// Definitions are read-only once instances reference them.
type WorkflowDefinition struct {
	ID          string
	Name        string
	Description string
	Steps       []StepDefinition
	Audit
}

// NewWorkflowDefinition creates an empty definition with the given ID.
func NewWorkflowDefinition(id, name, description string) *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:          id,
		Name:        name,
		Description: description,
		Audit:       NewAudit(SystemActor, time.Now().UTC()),
	}
}

// Step returns the step definition with the given ID, or nil.
func (d *WorkflowDefinition) Step(id string) *StepDefinition {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// OrderedSteps returns the steps sorted by Order. Steps without an order go
// last; ties keep their declared position.
func (d *WorkflowDefinition) OrderedSteps() []*StepDefinition {
	steps := make([]*StepDefinition, len(d.Steps))
	for i := range d.Steps {
		steps[i] = &d.Steps[i]
	}
	sort.SliceStable(steps, func(i, j int) bool {
		a, b := steps[i].Order, steps[j].Order
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return steps
}

// Validate checks that the definition can be instantiated: it must have at
// least one step and every step must require at least one role.
func (d *WorkflowDefinition) Validate() error {
	if len(d.Steps) == 0 {
		return ErrNoSteps
	}
	for i := range d.Steps {
		if len(d.Steps[i].RequiredRoles) == 0 {
			return ErrMissingRequiredApprovals
		}
	}
	return nil
}

// NewInstance validates the definition and materializes a new instance with
// one step instance per step. The current step is left unset; call Start.
func (d *WorkflowDefinition) NewInstance(instanceID string, newStepID func() string, now time.Time) (*WorkflowInstance, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	ordered := d.OrderedSteps()
	steps := make([]StepInstance, 0, len(ordered))
	for i, sd := range ordered {
		steps = append(steps, StepInstance{
			ID:               newStepID(),
			StepDefinitionID: sd.ID,
			Position:         i,
			Resolution:       ResolutionPending,
		})
	}

	return &WorkflowInstance{
		ID:           instanceID,
		DefinitionID: d.ID,
		Definition:   d,
		Steps:        steps,
		StartedAt:    now,
		Audit:        NewAudit(SystemActor, now),
		Version:      1,
	}, nil
}

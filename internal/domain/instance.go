package domain

import (
	"fmt"
	"strings"
	"time"
)

// Decision is an approve/reject verdict on a step.
type Decision int

const (
	DecisionUnknown  Decision = 0
	DecisionApproved Decision = 1
	DecisionRejected Decision = 2
)

func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "APPROVED"
	case DecisionRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// ParseDecision parses "approved"/"rejected" in any case.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APPROVED", "APPROVE":
		return DecisionApproved, nil
	case "REJECTED", "REJECT":
		return DecisionRejected, nil
	default:
		return DecisionUnknown, fmt.Errorf("%w: unknown decision %q", ErrInvalidArgument, s)
	}
}

// Resolution is the tri-state outcome of a step instance.
type Resolution int

const (
	ResolutionPending  Resolution = 0
	ResolutionApproved Resolution = 10
	ResolutionRejected Resolution = 20
)

func (r Resolution) String() string {
	switch r {
	case ResolutionPending:
		return "PENDING"
	case ResolutionApproved:
		return "APPROVED"
	case ResolutionRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Approval is a single recorded decision. Approvals are append-only.
type Approval struct {
	ID        int64 // assigned by storage; zero until persisted
	Decision  Decision
	Actor     string
	Comments  string
	DecidedAt time.Time
}

// TimeLimit is the deadline attached to a step when it becomes current.
type TimeLimit struct {
	ExpiresAt              time.Time
	AutoApproveOnThreshold bool
}

// Expired reports whether the deadline has passed at now.
func (t *TimeLimit) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Decision returns the decision the scheduler applies once the deadline passes.
func (t *TimeLimit) Decision() Decision {
	if t.AutoApproveOnThreshold {
		return DecisionApproved
	}
	return DecisionRejected
}

// StepInstance is the runtime record of one step within one instance.
type StepInstance struct {
	ID               string
	StepDefinitionID string
	Position         int
	Approvals        []Approval
	Resolution       Resolution
	TimeLimit        *TimeLimit
}

// resolve recomputes the resolution from every recorded approval: the step
// is approved only while all of them are approvals.
func (s *StepInstance) resolve() {
	if len(s.Approvals) == 0 {
		s.Resolution = ResolutionPending
		return
	}
	for _, a := range s.Approvals {
		if a.Decision != DecisionApproved {
			s.Resolution = ResolutionRejected
			return
		}
	}
	s.Resolution = ResolutionApproved
}

// WorkflowInstance is one running execution of a definition.
type WorkflowInstance struct {
	ID           string
	DefinitionID string

	// Definition is loaded alongside the instance and is never written back.
	Definition *WorkflowDefinition

	Steps         []StepInstance
	CurrentStepID string
	IsCompleted   bool
	StartedAt     time.Time
	EndedAt       *time.Time
	Audit
	Version int64
}

// Step returns the step instance with the given ID, or nil.
func (i *WorkflowInstance) Step(id string) *StepInstance {
	for idx := range i.Steps {
		if i.Steps[idx].ID == id {
			return &i.Steps[idx]
		}
	}
	return nil
}

// StepFor returns the step instance materialized for a step definition, or nil.
func (i *WorkflowInstance) StepFor(stepDefinitionID string) *StepInstance {
	for idx := range i.Steps {
		if i.Steps[idx].StepDefinitionID == stepDefinitionID {
			return &i.Steps[idx]
		}
	}
	return nil
}

// CurrentStep returns the current step instance, or nil when unset.
func (i *WorkflowInstance) CurrentStep() *StepInstance {
	if i.CurrentStepID == "" {
		return nil
	}
	return i.Step(i.CurrentStepID)
}

// Start points the instance at its first materialized step.
func (i *WorkflowInstance) Start() error {
	if i.CurrentStepID != "" || i.IsCompleted {
		return fmt.Errorf("%w: instance %s already started", ErrInvalidState, i.ID)
	}
	if len(i.Steps) == 0 {
		return fmt.Errorf("%w: instance %s has no steps", ErrInvalidState, i.ID)
	}
	i.CurrentStepID = i.Steps[0].ID
	return nil
}

// PendingDeadline returns the current step's time limit when the instance
// is active, the current step is pending and a limit is attached.
func (i *WorkflowInstance) PendingDeadline() *TimeLimit {
	if i.IsCompleted {
		return nil
	}
	cur := i.CurrentStep()
	if cur == nil || cur.Resolution != ResolutionPending {
		return nil
	}
	return cur.TimeLimit
}

// ApplyDecision records a decision on the current step, resolves it, and
// either advances to the branch target or completes the instance. The
// instance is left untouched when an error is returned.
func (i *WorkflowInstance) ApplyDecision(decision Decision, actor, comments string, now time.Time) error {
	if decision != DecisionApproved && decision != DecisionRejected {
		return fmt.Errorf("%w: decision must be approved or rejected", ErrInvalidArgument)
	}
	if i.IsCompleted {
		return fmt.Errorf("%w: instance %s is completed", ErrInvalidState, i.ID)
	}
	current := i.CurrentStep()
	if current == nil {
		return fmt.Errorf("%w: instance %s has no current step", ErrInvalidState, i.ID)
	}
	if i.Definition == nil {
		return fmt.Errorf("%w: definition of instance %s is not loaded", ErrInvalidState, i.ID)
	}

	stepDef := i.Definition.Step(current.StepDefinitionID)
	if stepDef == nil {
		return fmt.Errorf("%w: step definition %s is missing from definition %s",
			ErrInvalidTransitionTarget, current.StepDefinitionID, i.DefinitionID)
	}

	// Resolve the branch before mutating anything.
	var next *StepInstance
	var nextDef *StepDefinition
	if nextID := stepDef.NextStepID(decision); nextID != "" {
		next = i.StepFor(nextID)
		nextDef = i.Definition.Step(nextID)
		if next == nil || nextDef == nil {
			return fmt.Errorf("%w: step %s branches to %s, which instance %s does not contain",
				ErrInvalidTransitionTarget, stepDef.ID, nextID, i.ID)
		}
	}

	current.Approvals = append(current.Approvals, Approval{
		Decision:  decision,
		Actor:     actor,
		Comments:  comments,
		DecidedAt: now,
	})
	current.resolve()
	i.Touch(actor, now)

	if next == nil {
		i.IsCompleted = true
		ended := now
		i.EndedAt = &ended
		return nil
	}

	current.TimeLimit = nil
	i.CurrentStepID = next.ID
	if nextDef.TimeLimit != nil {
		next.TimeLimit = &TimeLimit{
			ExpiresAt:              now.Add(nextDef.TimeLimit.Duration()),
			AutoApproveOnThreshold: nextDef.TimeLimit.AutoApproveOnThreshold,
		}
	}
	return nil
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoStepDefinition is A(approved -> B, rejected -> none) and B(no next).
func twoStepDefinition(bLimit *TimeLimitConfig) *WorkflowDefinition {
	return &WorkflowDefinition{
		ID: "wf",
		Steps: []StepDefinition{
			{ID: "A", Order: intPtr(1), RequiredRoles: []Role{role("R1")}, ApprovedNextStepID: "B"},
			{ID: "B", Order: intPtr(2), RequiredRoles: []Role{role("R2")}, TimeLimit: bLimit},
		},
	}
}

func startedInstance(t *testing.T, def *WorkflowDefinition, now time.Time) *WorkflowInstance {
	t.Helper()
	inst, err := def.NewInstance("inst", sequentialIDs("si"), now)
	require.NoError(t, err)
	require.NoError(t, inst.Start())
	return inst
}

func TestApplyDecisionApproveThroughToCompletion(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	inst := startedInstance(t, twoStepDefinition(nil), start)
	stepA := inst.Steps[0].ID
	stepB := inst.Steps[1].ID

	t1 := start.Add(time.Minute)
	require.NoError(t, inst.ApplyDecision(DecisionApproved, "alice", "looks good", t1))
	assert.Equal(t, stepB, inst.CurrentStepID)
	assert.False(t, inst.IsCompleted)
	assert.Equal(t, ResolutionApproved, inst.Step(stepA).Resolution)
	require.Len(t, inst.Step(stepA).Approvals, 1)
	assert.Equal(t, Approval{Decision: DecisionApproved, Actor: "alice", Comments: "looks good", DecidedAt: t1},
		inst.Step(stepA).Approvals[0])
	assert.Equal(t, "alice", inst.UpdatedBy)

	t2 := t1.Add(time.Minute)
	require.NoError(t, inst.ApplyDecision(DecisionApproved, "bob", "", t2))
	assert.True(t, inst.IsCompleted)
	require.NotNil(t, inst.EndedAt)
	assert.Equal(t, t2, *inst.EndedAt)
	assert.False(t, inst.EndedAt.Before(inst.StartedAt))
	assert.Equal(t, stepB, inst.CurrentStepID, "current step stays on the resolved step")
	assert.Equal(t, ResolutionApproved, inst.Step(stepB).Resolution)
}

func TestApplyDecisionRejectWithoutBranchCompletes(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	inst := startedInstance(t, twoStepDefinition(nil), start)
	stepA := inst.Steps[0].ID

	require.NoError(t, inst.ApplyDecision(DecisionRejected, "", "", start))
	assert.True(t, inst.IsCompleted)
	assert.Equal(t, stepA, inst.CurrentStepID)
	assert.Equal(t, ResolutionRejected, inst.Step(stepA).Resolution)
	assert.Equal(t, SystemActor, inst.UpdatedBy)
}

func TestApplyDecisionAttachesTimeLimit(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	inst := startedInstance(t, twoStepDefinition(&TimeLimitConfig{MaxMinutes: 5, AutoApproveOnThreshold: true}), start)

	decidedAt := start.Add(30 * time.Second)
	require.NoError(t, inst.ApplyDecision(DecisionApproved, "alice", "", decidedAt))

	cur := inst.CurrentStep()
	require.NotNil(t, cur)
	require.NotNil(t, cur.TimeLimit)
	assert.Equal(t, decidedAt.Add(5*time.Minute), cur.TimeLimit.ExpiresAt)
	assert.True(t, cur.TimeLimit.AutoApproveOnThreshold)
	assert.Equal(t, DecisionApproved, cur.TimeLimit.Decision())
	assert.Same(t, cur.TimeLimit, inst.PendingDeadline())

	assert.False(t, cur.TimeLimit.Expired(decidedAt.Add(4*time.Minute)))
	assert.True(t, cur.TimeLimit.Expired(decidedAt.Add(5*time.Minute)))
}

func TestApplyDecisionPreconditions(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("no current step", func(t *testing.T) {
		inst, err := twoStepDefinition(nil).NewInstance("inst", sequentialIDs("si"), now)
		require.NoError(t, err)

		err = inst.ApplyDecision(DecisionApproved, "alice", "", now)
		require.ErrorIs(t, err, ErrInvalidState)
		for _, s := range inst.Steps {
			assert.Empty(t, s.Approvals)
			assert.Equal(t, ResolutionPending, s.Resolution)
		}
		assert.False(t, inst.IsCompleted)
	})

	t.Run("completed", func(t *testing.T) {
		inst := startedInstance(t, twoStepDefinition(nil), now)
		require.NoError(t, inst.ApplyDecision(DecisionRejected, "", "", now))

		err := inst.ApplyDecision(DecisionApproved, "", "", now)
		require.ErrorIs(t, err, ErrInvalidState)
		assert.Len(t, inst.Steps[0].Approvals, 1)
	})

	t.Run("unknown decision", func(t *testing.T) {
		inst := startedInstance(t, twoStepDefinition(nil), now)
		err := inst.ApplyDecision(DecisionUnknown, "", "", now)
		require.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("branch target missing from instance", func(t *testing.T) {
		def := twoStepDefinition(nil)
		inst := startedInstance(t, def, now)
		// Definition edited after the instance was materialized.
		def.Steps = append(def.Steps, StepDefinition{ID: "C", RequiredRoles: []Role{role("R3")}})
		def.Steps[0].ApprovedNextStepID = "C"

		err := inst.ApplyDecision(DecisionApproved, "alice", "", now)
		require.ErrorIs(t, err, ErrInvalidTransitionTarget)
		assert.Empty(t, inst.Steps[0].Approvals, "no mutation on failure")
		assert.Equal(t, inst.Steps[0].ID, inst.CurrentStepID)
	})
}

func TestResolutionRequiresUnanimity(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	// A loops back to itself on rejection so it can collect several decisions.
	def := &WorkflowDefinition{
		ID: "wf",
		Steps: []StepDefinition{
			{ID: "A", RequiredRoles: []Role{role("R1"), role("R2")}, ApprovedNextStepID: "A", RejectedNextStepID: "A",
				TimeLimit: &TimeLimitConfig{MaxMinutes: 1}},
		},
	}
	inst := startedInstance(t, def, now)
	stepA := inst.Steps[0].ID

	require.NoError(t, inst.ApplyDecision(DecisionApproved, "r1", "", now))
	assert.Equal(t, ResolutionApproved, inst.Step(stepA).Resolution)
	require.NotNil(t, inst.Step(stepA).TimeLimit, "re-entered step gets a fresh limit")

	require.NoError(t, inst.ApplyDecision(DecisionRejected, "r2", "", now.Add(time.Second)))
	assert.Equal(t, ResolutionRejected, inst.Step(stepA).Resolution)

	require.NoError(t, inst.ApplyDecision(DecisionApproved, "r1", "", now.Add(2*time.Second)))
	assert.Equal(t, ResolutionRejected, inst.Step(stepA).Resolution, "an earlier rejection keeps the step rejected")
	assert.Len(t, inst.Step(stepA).Approvals, 3)
}

func TestApplyDecisionClearsOutgoingTimeLimit(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	def := &WorkflowDefinition{
		ID: "wf",
		Steps: []StepDefinition{
			{ID: "A", Order: intPtr(1), RequiredRoles: []Role{role("R1")}, ApprovedNextStepID: "B"},
			{ID: "B", Order: intPtr(2), RequiredRoles: []Role{role("R2")}, ApprovedNextStepID: "C",
				TimeLimit: &TimeLimitConfig{MaxMinutes: 10}},
			{ID: "C", Order: intPtr(3), RequiredRoles: []Role{role("R3")}},
		},
	}
	inst := startedInstance(t, def, now)

	require.NoError(t, inst.ApplyDecision(DecisionApproved, "", "", now))
	require.NotNil(t, inst.StepFor("B").TimeLimit)

	require.NoError(t, inst.ApplyDecision(DecisionApproved, "", "", now.Add(time.Minute)))
	assert.Nil(t, inst.StepFor("B").TimeLimit)
	assert.Nil(t, inst.StepFor("C").TimeLimit)
	assert.Nil(t, inst.PendingDeadline())
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		in      string
		want    Decision
		wantErr bool
	}{
		{in: "approved", want: DecisionApproved},
		{in: "APPROVE", want: DecisionApproved},
		{in: " Rejected ", want: DecisionRejected},
		{in: "reject", want: DecisionRejected},
		{in: "maybe", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDecision(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

package e2e

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/approvalflow/internal/web"
)

// TestPayrollAutoApproval walks the payroll workflow to its last step over
// HTTP and lets the scheduler approve it once the time limit passes.
func TestPayrollAutoApproval(t *testing.T) {
	env := NewTestEnv(t)

	inst := env.createInstance(t)
	require.NotNil(t, inst.CurrentStep)
	assert.Equal(t, "Employee Timekeeping", inst.CurrentStep.Name)

	for _, want := range []string{
		"Manager Approval",
		"Resource Management Approval",
		"Payroll Calculation",
		"Tax Withholding",
	} {
		env.Clock.Advance(time.Minute)
		inst = env.decide(t, inst.ID, "approve", "approver")
		require.NotNil(t, inst.CurrentStep)
		assert.Equal(t, want, inst.CurrentStep.Name)
	}

	require.NotNil(t, inst.CurrentStep.StepTimeLimit)
	deadline := inst.CurrentStep.StepTimeLimit.ExpiresIn
	assert.Equal(t, env.Clock.Now().Add(5*time.Minute), deadline)
	assert.True(t, inst.CurrentStep.StepTimeLimit.AutoApproveOnThreshold)

	// One second early: nothing to resolve, next wake is the deadline.
	next := env.Scheduler.RunExpirationCycle(t.Context(), deadline.Add(-time.Second))
	assert.Equal(t, time.Second, next)

	env.Clock.Advance(5 * time.Minute)
	resp, err := env.call(t, "RunExpirationCycle", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, float64(600), resp["next_wake_interval_seconds"])

	var done web.WorkflowInstanceDetail
	code := env.request(t, http.MethodGet, "/api/workflows/"+env.Payroll.ID+"/instances/"+inst.ID, nil, &done)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, done.IsCompleted)
	require.NotNil(t, done.EndedAt)
	assert.Equal(t, deadline, *done.EndedAt)

	last := done.Steps[len(done.Steps)-1]
	assert.Equal(t, "APPROVED", last.Resolution)
	require.Len(t, last.Approvals, 1)
	assert.Empty(t, last.Approvals[0].Actor)
	for _, s := range done.Steps {
		assert.True(t, s.IsApproved, s.Name)
	}
}

// TestRejectionCompletesOverGRPC rejects the first payroll step, which has
// no rejection branch, and checks both transports agree.
func TestRejectionCompletesOverGRPC(t *testing.T) {
	env := NewTestEnv(t)
	inst := env.createInstance(t)

	resp, err := env.call(t, "RejectCurrentStep", map[string]any{
		"instance_id":   inst.ID,
		"definition_id": env.Payroll.ID,
		"actor":         "supervisor",
		"comments":      "hours missing",
	})
	require.NoError(t, err)
	got := resp["instance"].(map[string]any)
	assert.Equal(t, true, got["is_completed"])

	var list []web.WorkflowInstanceListItem
	code := env.request(t, http.MethodGet, "/api/workflows/"+env.Payroll.ID+"/instances?completed=true", nil, &list)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, list, 1)
	assert.Equal(t, inst.ID, list[0].ID)
	assert.Equal(t, "Payroll Process", list[0].Name)
	assert.Empty(t, list[0].CurrentStep)

	var detail web.WorkflowInstanceDetail
	env.request(t, http.MethodGet, "/api/workflows/"+env.Payroll.ID+"/instances/"+inst.ID, nil, &detail)
	assert.Equal(t, "REJECTED", detail.Steps[0].Resolution)
	require.Len(t, detail.Steps[0].Approvals, 1)
	assert.Equal(t, "hours missing", detail.Steps[0].Approvals[0].Comments)
	for _, s := range detail.Steps[1:] {
		assert.Equal(t, "PENDING", s.Resolution)
	}
}

// TestSchedulerLoopWakesOnNewDeadline runs the scheduler loop and checks
// that reaching the timed step wakes it before its default interval.
func TestSchedulerLoopWakesOnNewDeadline(t *testing.T) {
	env := NewTestEnv(t)
	env.Scheduler.Start()
	t.Cleanup(env.Scheduler.Stop)

	const nextWake = `
		# HELP approvalflow_scheduler_next_wake_seconds Interval returned by the most recent expiration cycle.
		# TYPE approvalflow_scheduler_next_wake_seconds gauge
		approvalflow_scheduler_next_wake_seconds %d
	`
	gaugeIs := func(seconds int) func() bool {
		return func() bool {
			return testutil.GatherAndCompare(env.Metrics.Registry(),
				strings.NewReader(fmt.Sprintf(nextWake, seconds)),
				"approvalflow_scheduler_next_wake_seconds") == nil
		}
	}
	require.Eventually(t, gaugeIs(600), 5*time.Second, 10*time.Millisecond)

	inst := env.createInstance(t)
	for range 4 {
		inst = env.decide(t, inst.ID, "approve", "approver")
	}
	require.Equal(t, "Tax Withholding", inst.CurrentStep.Name)

	// The clock never moves, so the woken cycle sees the full time limit.
	assert.Eventually(t, gaugeIs(300), 5*time.Second, 10*time.Millisecond)
}

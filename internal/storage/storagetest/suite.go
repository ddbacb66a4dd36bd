package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/storage"
	"github.com/example/approvalflow/pkg/id"
)

// Opener returns an empty, migrated storage for one subtest.
type Opener func(t *testing.T) storage.Storage

// Run exercises the storage contract against a backend.
func Run(t *testing.T, open Opener) {
	t.Run("definitions", func(t *testing.T) { testDefinitions(t, open(t)) })
	t.Run("instance round trip", func(t *testing.T) { testInstanceRoundTrip(t, open(t)) })
	t.Run("optimistic locking", func(t *testing.T) { testOptimisticLocking(t, open(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("list", func(t *testing.T) { testList(t, open(t)) })
	t.Run("expiration queries", func(t *testing.T) { testExpirationQueries(t, open(t)) })
}

func testDefinitions(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	def := TwoStepDefinition("Definitions", &domain.TimeLimitConfig{MaxMinutes: 5, AutoApproveOnThreshold: true})
	def.Steps[0].RejectedNextStepID = "A"
	def.Steps = append(def.Steps, domain.StepDefinition{
		ID:            "C",
		Name:          "Unordered",
		RequiredRoles: []domain.Role{Role("R1"), Role("R3")},
	})
	CreateDefinition(t, st, def)

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	got, err := uow.Definitions().Get(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, def.Name, got.Name)
	assert.Equal(t, def.Description, got.Description)
	require.Len(t, got.Steps, 3)

	a, b, c := got.Step("A"), got.Step("B"), got.Step("C")
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)

	assert.Equal(t, "B", a.ApprovedNextStepID)
	assert.Equal(t, "A", a.RejectedNextStepID)
	require.NotNil(t, a.Order)
	assert.Equal(t, 1, *a.Order)
	assert.Nil(t, a.TimeLimit)

	require.NotNil(t, b.TimeLimit)
	assert.Equal(t, domain.TimeLimitConfig{MaxMinutes: 5, AutoApproveOnThreshold: true}, *b.TimeLimit)
	assert.Empty(t, b.ApprovedNextStepID)

	assert.Nil(t, c.Order)
	var roleNames []string
	for _, r := range c.RequiredRoles {
		roleNames = append(roleNames, r.Name)
	}
	assert.Equal(t, []string{"R1", "R3"}, roleNames)

	byName, err := uow.Definitions().GetByName(ctx, def.Name)
	require.NoError(t, err)
	assert.Equal(t, def.ID, byName.ID)

	all, err := uow.Definitions().List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].Steps, 3)

	roles, err := uow.Roles().List(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 3)

	_, err = uow.Definitions().Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = uow.Roles().GetByName(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testInstanceRoundTrip(t *testing.T, st storage.Storage) {
	def := TwoStepDefinition("RoundTrip", &domain.TimeLimitConfig{MaxMinutes: 5, AutoApproveOnThreshold: true})
	CreateDefinition(t, st, def)

	created := CreateInstance(t, st, def, Epoch)
	loaded := LoadInstance(t, st, def, created.ID)

	assert.Equal(t, created.DefinitionID, loaded.DefinitionID)
	assert.Equal(t, created.CurrentStepID, loaded.CurrentStepID)
	assert.False(t, loaded.IsCompleted)
	assert.Nil(t, loaded.EndedAt)
	assert.True(t, created.StartedAt.Equal(loaded.StartedAt))
	assert.Equal(t, int64(1), loaded.Version)
	require.Len(t, loaded.Steps, 2)
	for i := range created.Steps {
		assert.Equal(t, created.Steps[i].ID, loaded.Steps[i].ID)
		assert.Equal(t, created.Steps[i].StepDefinitionID, loaded.Steps[i].StepDefinitionID)
		assert.Equal(t, i, loaded.Steps[i].Position)
	}

	decidedAt := Epoch.Add(time.Minute)
	require.NoError(t, loaded.ApplyDecision(domain.DecisionApproved, "alice", "ok", decidedAt))
	SaveInstance(t, st, loaded)
	assert.Equal(t, int64(2), loaded.Version)
	require.NotZero(t, loaded.Steps[0].Approvals[0].ID, "approval ID assigned on insert")

	reloaded := LoadInstance(t, st, def, created.ID)
	assert.Equal(t, int64(2), reloaded.Version)
	assert.Equal(t, reloaded.Steps[1].ID, reloaded.CurrentStepID)
	assert.Equal(t, domain.ResolutionApproved, reloaded.Steps[0].Resolution)
	require.Len(t, reloaded.Steps[0].Approvals, 1)
	approval := reloaded.Steps[0].Approvals[0]
	assert.Equal(t, domain.DecisionApproved, approval.Decision)
	assert.Equal(t, "alice", approval.Actor)
	assert.Equal(t, "ok", approval.Comments)
	assert.True(t, decidedAt.Equal(approval.DecidedAt))
	assert.Equal(t, "alice", reloaded.UpdatedBy)

	require.NotNil(t, reloaded.Steps[1].TimeLimit)
	assert.True(t, decidedAt.Add(5*time.Minute).Equal(reloaded.Steps[1].TimeLimit.ExpiresAt))
	assert.True(t, reloaded.Steps[1].TimeLimit.AutoApproveOnThreshold)

	// Completing keeps the current step and stores the end time.
	endAt := decidedAt.Add(time.Minute)
	require.NoError(t, reloaded.ApplyDecision(domain.DecisionRejected, "bob", "", endAt))
	SaveInstance(t, st, reloaded)

	final := LoadInstance(t, st, def, created.ID)
	assert.True(t, final.IsCompleted)
	require.NotNil(t, final.EndedAt)
	assert.True(t, endAt.Equal(*final.EndedAt))
	assert.Equal(t, final.Steps[1].ID, final.CurrentStepID)
	assert.Equal(t, domain.ResolutionRejected, final.Steps[1].Resolution)
	assert.Len(t, final.Steps[0].Approvals, 1, "approvals are not duplicated on later updates")
}

func testOptimisticLocking(t *testing.T, st storage.Storage) {
	def := TwoStepDefinition("Locking", nil)
	CreateDefinition(t, st, def)
	created := CreateInstance(t, st, def, Epoch)

	first := LoadInstance(t, st, def, created.ID)
	second := LoadInstance(t, st, def, created.ID)

	require.NoError(t, first.ApplyDecision(domain.DecisionApproved, "alice", "", Epoch))
	SaveInstance(t, st, first)

	require.NoError(t, second.ApplyDecision(domain.DecisionRejected, "bob", "", Epoch))
	ctx := context.Background()
	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	err = uow.Instances().Update(ctx, second)
	assert.ErrorIs(t, err, domain.ErrConcurrentModify)
}

func testRollback(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	def := TwoStepDefinition("Rollback", nil)
	CreateDefinition(t, st, def)

	inst, err := def.NewInstance("rolled-back", id.Generate, Epoch)
	require.NoError(t, err)
	require.NoError(t, inst.Start())

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Instances().Create(ctx, inst))
	require.NoError(t, uow.Rollback())

	uow, err = st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	_, err = uow.Instances().Get(ctx, "rolled-back")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testList(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	defA := TwoStepDefinition("ListA", nil)
	defB := TwoStepDefinition("ListB", nil)
	CreateDefinition(t, st, defA)
	CreateDefinition(t, st, defB)

	a1 := CreateInstance(t, st, defA, Epoch)
	a2 := CreateInstance(t, st, defA, Epoch.Add(time.Minute))
	b1 := CreateInstance(t, st, defB, Epoch.Add(2*time.Minute))

	done := LoadInstance(t, st, defA, a2.ID)
	require.NoError(t, done.ApplyDecision(domain.DecisionRejected, "", "", Epoch.Add(3*time.Minute)))
	SaveInstance(t, st, done)

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	ids := func(list []*domain.WorkflowInstance) []string {
		var out []string
		for _, inst := range list {
			out = append(out, inst.ID)
		}
		return out
	}

	all, err := uow.Instances().List(ctx, storage.ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID, a2.ID, b1.ID}, ids(all))

	forA, err := uow.Instances().List(ctx, storage.ListOptions{DefinitionID: defA.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{a1.ID, a2.ID}, ids(forA))

	completed := true
	doneList, err := uow.Instances().List(ctx, storage.ListOptions{Completed: &completed})
	require.NoError(t, err)
	assert.Equal(t, []string{a2.ID}, ids(doneList))

	paged, err := uow.Instances().List(ctx, storage.ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{a2.ID}, ids(paged))
}

func testExpirationQueries(t *testing.T, st storage.Storage) {
	ctx := context.Background()
	def := TwoStepDefinition("Expiration", &domain.TimeLimitConfig{MaxMinutes: 10})
	CreateDefinition(t, st, def)

	// advance moves a fresh instance to B at decidedAt, so B expires 10 minutes later.
	advance := func(decidedAt time.Time) *domain.WorkflowInstance {
		inst := CreateInstance(t, st, def, Epoch)
		require.NoError(t, inst.ApplyDecision(domain.DecisionApproved, "", "", decidedAt))
		SaveInstance(t, st, inst)
		return inst
	}

	expired := advance(Epoch)
	atBoundary := advance(Epoch.Add(5 * time.Minute))
	advance(Epoch.Add(20 * time.Minute))
	advance(Epoch.Add(30 * time.Minute))

	// Resolved and completed instances never match.
	completed := advance(Epoch)
	require.NoError(t, completed.ApplyDecision(domain.DecisionApproved, "", "", Epoch.Add(time.Minute)))
	SaveInstance(t, st, completed)

	// An instance still on A has no time limit.
	CreateInstance(t, st, def, Epoch)

	now := Epoch.Add(15 * time.Minute)

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	ids, err := uow.Instances().ListExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []string{expired.ID, atBoundary.ID}, ids, "expires_at <= now, earliest first")

	next, err := uow.Instances().NextExpiration(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, Epoch.Add(30*time.Minute).Equal(*next), "earliest expires_at strictly after now, got %v", next)

	// The read is idempotent.
	again, err := uow.Instances().NextExpiration(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.True(t, next.Equal(*again))
	idsAgain, err := uow.Instances().ListExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, ids, idsAgain)

	none, err := uow.Instances().NextExpiration(ctx, Epoch.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, none)
}

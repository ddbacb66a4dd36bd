// Package storagetest holds fixtures and a conformance suite shared by the
// storage backends and the packages built on top of them.
package storagetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/storage"
	"github.com/example/approvalflow/pkg/id"
)

// Epoch is a fixed, storage-friendly reference time for tests.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

// Role returns a role whose ID is derived from its name.
func Role(name string) domain.Role {
	return domain.Role{
		ID:    "role-" + name,
		Name:  name,
		Audit: domain.NewAudit(domain.SystemActor, Epoch),
	}
}

// TwoStepDefinition returns a definition with steps A(R1, approved -> B)
// and B(R2, no next step). B carries limit when non-nil.
func TwoStepDefinition(name string, limit *domain.TimeLimitConfig) *domain.WorkflowDefinition {
	def := domain.NewWorkflowDefinition(id.Generate(), name, "two step fixture")
	def.Audit = domain.NewAudit(domain.SystemActor, Epoch)
	def.Steps = []domain.StepDefinition{
		{
			ID:                 "A",
			Name:               "Step A",
			Order:              intPtr(1),
			RequiredRoles:      []domain.Role{Role("R1")},
			ApprovedNextStepID: "B",
		},
		{
			ID:            "B",
			Name:          "Step B",
			Order:         intPtr(2),
			RequiredRoles: []domain.Role{Role("R2")},
			TimeLimit:     limit,
		},
	}
	return def
}

// CreateDefinition persists def together with any roles its steps reference.
func CreateDefinition(t testing.TB, st storage.Storage, def *domain.WorkflowDefinition) {
	t.Helper()
	ctx := context.Background()

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	for _, step := range def.Steps {
		for _, role := range step.RequiredRoles {
			_, err := uow.Roles().GetByName(ctx, role.Name)
			if errors.Is(err, domain.ErrNotFound) {
				r := role
				require.NoError(t, uow.Roles().Create(ctx, &r))
				continue
			}
			require.NoError(t, err)
		}
	}
	require.NoError(t, uow.Definitions().Create(ctx, def))
	require.NoError(t, uow.Commit())
}

// CreateInstance materializes, starts and persists an instance of def.
func CreateInstance(t testing.TB, st storage.Storage, def *domain.WorkflowDefinition, now time.Time) *domain.WorkflowInstance {
	t.Helper()
	ctx := context.Background()

	inst, err := def.NewInstance(id.Generate(), id.Generate, now)
	require.NoError(t, err)
	require.NoError(t, inst.Start())

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	require.NoError(t, uow.Instances().Create(ctx, inst))
	require.NoError(t, uow.Commit())
	return inst
}

// LoadInstance reads an instance and attaches def.
func LoadInstance(t testing.TB, st storage.Storage, def *domain.WorkflowDefinition, instanceID string) *domain.WorkflowInstance {
	t.Helper()
	ctx := context.Background()

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	inst, err := uow.Instances().Get(ctx, instanceID)
	require.NoError(t, err)
	inst.Definition = def
	return inst
}

// SaveInstance writes a mutated instance in its own transaction.
func SaveInstance(t testing.TB, st storage.Storage, inst *domain.WorkflowInstance) {
	t.Helper()
	ctx := context.Background()

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	require.NoError(t, uow.Instances().Update(ctx, inst))
	require.NoError(t, uow.Commit())
}

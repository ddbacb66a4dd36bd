package bootstrap

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/storage/sqlite"
	"github.com/example/approvalflow/internal/storage/storagetest"
)

func payrollPath(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "definitions", "payroll.yaml")
}

func newStorage(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "bootstrap_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestLoadPayroll(t *testing.T) {
	file, err := LoadFile(payrollPath(t))
	require.NoError(t, err)

	require.Len(t, file.Roles, 5)
	require.Len(t, file.Workflows, 1)
	wf := file.Workflows[0]
	assert.Equal(t, "Payroll Process", wf.Name)
	require.Len(t, wf.Steps, 5)

	last := wf.Steps[4]
	assert.Equal(t, "Tax Withholding", last.Name)
	require.NotNil(t, last.TimeLimit)
	assert.Equal(t, 5, last.TimeLimit.MaxMinutes)
	assert.True(t, last.TimeLimit.AutoApproveOnThreshold)
	assert.Empty(t, last.ApprovedNext)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "", "empty"},
		{"unknown field", "roles: []\nextra: 1\n", "decode"},
		{"duplicate role", "roles:\n  - name: R\n  - name: R\n", "duplicate role"},
		{"unknown role", "workflows:\n  - name: W\n    steps:\n      - key: a\n        name: A\n        roles: [R]\n", "unknown role"},
		{"unknown branch", "roles:\n  - name: R\nworkflows:\n  - name: W\n    steps:\n      - key: a\n        name: A\n        roles: [R]\n        approvedNext: b\n", "unknown step"},
		{"duplicate step", "roles:\n  - name: R\nworkflows:\n  - name: W\n    steps:\n      - key: a\n        name: A\n      - key: a\n        name: B\n", "duplicate step"},
		{"duplicate step role", "roles:\n  - name: R\nworkflows:\n  - name: W\n    steps:\n      - key: a\n        name: A\n        roles: [R, \" R\"]\n", "twice"},
		{"blank role", "roles:\n  - name: \"  \"\n", "role name is required"},
		{"bad time limit", "roles:\n  - name: R\nworkflows:\n  - name: W\n    steps:\n      - key: a\n        name: A\n        timeLimit:\n          maxMinutes: 0\n", "positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := newStorage(t)
	file, err := LoadFile(payrollPath(t))
	require.NoError(t, err)

	res, err := Apply(ctx, st, file, "bootstrap", storagetest.Epoch)
	require.NoError(t, err)
	assert.Equal(t, &Result{RolesCreated: 5, WorkflowsCreated: 1}, res)

	res, err = Apply(ctx, st, file, "bootstrap", storagetest.Epoch)
	require.NoError(t, err)
	assert.Equal(t, &Result{WorkflowsSkipped: 1}, res)

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	defs, err := uow.Definitions().List(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	def, err := uow.Definitions().GetByName(ctx, "Payroll Process")
	require.NoError(t, err)
	assert.Equal(t, "bootstrap", def.CreatedBy)
	require.Len(t, def.Steps, 5)

	ordered := def.OrderedSteps()
	assert.Equal(t, "timekeeping", ordered[0].ID)
	assert.Equal(t, "manager-approval", ordered[0].ApprovedNextStepID)
	require.Len(t, ordered[0].RequiredRoles, 1)
	assert.Equal(t, "Employee Supervisor", ordered[0].RequiredRoles[0].Name)
	require.NotNil(t, ordered[4].TimeLimit)
	assert.Equal(t, 5, ordered[4].TimeLimit.MaxMinutes)
	require.NoError(t, def.Validate())
}

func TestApplyReusesExistingRoles(t *testing.T) {
	ctx := context.Background()
	st := newStorage(t)

	first, err := Load(strings.NewReader("roles:\n  - name: Approver\n"))
	require.NoError(t, err)
	_, err = Apply(ctx, st, first, "", storagetest.Epoch)
	require.NoError(t, err)

	second, err := Load(strings.NewReader(`
roles:
  - name: Approver
workflows:
  - name: Single
    steps:
      - key: only
        name: Only
        roles: [Approver]
`))
	require.NoError(t, err)
	res, err := Apply(ctx, st, second, "", storagetest.Epoch)
	require.NoError(t, err)
	assert.Equal(t, &Result{WorkflowsCreated: 1}, res)

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()
	roles, err := uow.Roles().List(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestApplyTrimsRoleNames(t *testing.T) {
	ctx := context.Background()
	st := newStorage(t)

	file, err := Load(strings.NewReader(`
roles:
  - name: " Approver "
workflows:
  - name: Single
    steps:
      - key: only
        name: Only
        roles: ["Approver  "]
`))
	require.NoError(t, err)
	res, err := Apply(ctx, st, file, "", storagetest.Epoch)
	require.NoError(t, err)
	assert.Equal(t, &Result{RolesCreated: 1, WorkflowsCreated: 1}, res)

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer uow.Rollback()

	role, err := uow.Roles().GetByName(ctx, "Approver")
	require.NoError(t, err)
	def, err := uow.Definitions().GetByName(ctx, "Single")
	require.NoError(t, err)
	require.Len(t, def.Steps, 1)
	require.Len(t, def.Steps[0].RequiredRoles, 1)
	assert.Equal(t, role.ID, def.Steps[0].RequiredRoles[0].ID)
	assert.Equal(t, "Approver", def.Steps[0].RequiredRoles[0].Name)
}

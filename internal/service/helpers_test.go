package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/observability"
	"github.com/example/approvalflow/internal/storage"
	"github.com/example/approvalflow/internal/storage/sqlite"
	"github.com/example/approvalflow/internal/storage/storagetest"
)

// manualClock is a settable clock.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type testEnv struct {
	storage *flakyStorage
	clock   *manualClock
	metrics *observability.Metrics
	svc     *WorkflowService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "service_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	env := &testEnv{
		storage: &flakyStorage{Storage: st},
		clock:   &manualClock{t: storagetest.Epoch},
		metrics: observability.NewMetrics(),
	}
	env.svc = NewWorkflowService(env.storage,
		WithClock(env.clock),
		WithMetrics(env.metrics),
	)
	return env
}

// definition persists a two step definition A -> B where B carries limit.
func (e *testEnv) definition(t *testing.T, limit *domain.TimeLimitConfig) *domain.WorkflowDefinition {
	t.Helper()
	def := storagetest.TwoStepDefinition("wf-"+t.Name(), limit)
	storagetest.CreateDefinition(t, e.storage, def)
	return def
}

// instanceAtB creates an instance and approves step A at decidedAt, so B is
// current and carries limit.
func (e *testEnv) instanceAtB(t *testing.T, def *domain.WorkflowDefinition, decidedAt time.Time) *domain.WorkflowInstance {
	t.Helper()
	ctx := context.Background()

	e.clock.Set(decidedAt)
	inst, err := e.svc.CreateInstance(ctx, def.ID)
	require.NoError(t, err)
	inst, err = e.svc.ApproveCurrentStep(ctx, &DecisionRequest{InstanceID: inst.ID, Actor: "alice"})
	require.NoError(t, err)
	return inst
}

func (e *testEnv) load(t *testing.T, instanceID string) *domain.WorkflowInstance {
	t.Helper()
	inst, err := e.svc.GetInstance(context.Background(), &GetInstanceRequest{InstanceID: instanceID})
	require.NoError(t, err)
	return inst
}

var errInjected = errors.New("injected storage failure")

// flakyStorage wraps a Storage and fails instance writes on demand.
type flakyStorage struct {
	storage.Storage

	mu         sync.Mutex
	failCreate bool
	failUpdate map[string]bool
}

func (f *flakyStorage) FailCreate(fail bool) {
	f.mu.Lock()
	f.failCreate = fail
	f.mu.Unlock()
}

func (f *flakyStorage) FailUpdate(instanceID string) {
	f.mu.Lock()
	if f.failUpdate == nil {
		f.failUpdate = make(map[string]bool)
	}
	f.failUpdate[instanceID] = true
	f.mu.Unlock()
}

func (f *flakyStorage) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	uow, err := f.Storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyUnitOfWork{UnitOfWork: uow, owner: f}, nil
}

type flakyUnitOfWork struct {
	storage.UnitOfWork
	owner *flakyStorage
}

func (u *flakyUnitOfWork) Instances() storage.InstanceRepository {
	return &flakyInstances{InstanceRepository: u.UnitOfWork.Instances(), owner: u.owner}
}

type flakyInstances struct {
	storage.InstanceRepository
	owner *flakyStorage
}

func (r *flakyInstances) Create(ctx context.Context, inst *domain.WorkflowInstance) error {
	r.owner.mu.Lock()
	fail := r.owner.failCreate
	r.owner.mu.Unlock()
	if fail {
		// Write first so the test can observe the rollback.
		if err := r.InstanceRepository.Create(ctx, inst); err != nil {
			return err
		}
		return errInjected
	}
	return r.InstanceRepository.Create(ctx, inst)
}

func (r *flakyInstances) Update(ctx context.Context, inst *domain.WorkflowInstance) error {
	r.owner.mu.Lock()
	fail := r.owner.failUpdate[inst.ID]
	r.owner.mu.Unlock()
	if fail {
		return errInjected
	}
	return r.InstanceRepository.Update(ctx, inst)
}

// recordingNotifier captures deadlines passed to Notify.
type recordingNotifier struct {
	mu    sync.Mutex
	times []time.Time
}

func (n *recordingNotifier) Notify(expiresAt time.Time) {
	n.mu.Lock()
	n.times = append(n.times, expiresAt)
	n.mu.Unlock()
}

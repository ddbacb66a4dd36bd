package grpc

import (
	"context"
	"net"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/endpoint"
	applog "github.com/example/approvalflow/internal/log"
	"github.com/example/approvalflow/internal/service"
	"github.com/example/approvalflow/internal/storage/sqlite"
	"github.com/example/approvalflow/internal/storage/storagetest"
	"github.com/example/approvalflow/pkg/clock"
)

type testEnv struct {
	client *Client
	conn   *grpc.ClientConn
	def    *domain.WorkflowDefinition
	now    *atomic.Int64
}

// advance moves the server clock forward by d.
func (e *testEnv) advance(d time.Duration) {
	e.now.Add(int64(d))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "grpc_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	def := storagetest.TwoStepDefinition("payroll", &domain.TimeLimitConfig{MaxMinutes: 5, AutoApproveOnThreshold: true})
	storagetest.CreateDefinition(t, st, def)

	now := new(atomic.Int64)
	now.Store(storagetest.Epoch.UnixNano())
	svc := service.NewWorkflowService(st, service.WithClock(clock.Func(func() time.Time {
		return time.Unix(0, now.Load()).UTC()
	})))
	sched := service.NewExpirationScheduler(svc, service.DefaultSchedulerConfig())
	srv := NewServer(endpoint.MakeEndpoints(svc, sched))

	lis := bufconn.Listen(1 << 20)
	go srv.ServeListener(lis)
	t.Cleanup(srv.GracefulStop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &testEnv{client: NewClient(conn), conn: conn, def: def, now: now}
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func (e *testEnv) call(t *testing.T, method string, req map[string]any) map[string]any {
	t.Helper()
	resp, err := e.client.Call(context.Background(), method, mustStruct(t, req))
	require.NoError(t, err)
	return resp.AsMap()
}

func TestWorkflowFlowOverGRPC(t *testing.T) {
	env := newTestEnv(t)

	defs := env.call(t, "ListDefinitions", nil)["definitions"].([]any)
	require.Len(t, defs, 1)
	assert.Equal(t, env.def.ID, defs[0].(map[string]any)["id"])

	inst := env.call(t, "CreateInstance", map[string]any{"definition_id": env.def.ID})["instance"].(map[string]any)
	instanceID := inst["id"].(string)
	steps := inst["steps"].([]any)
	require.Len(t, steps, 2)
	assert.Equal(t, steps[0].(map[string]any)["id"], inst["current_step_id"])
	assert.Equal(t, false, inst["is_completed"])

	inst = env.call(t, "ApproveCurrentStep", map[string]any{
		"instance_id": instanceID,
		"actor":       "alice",
		"comments":    "ok",
	})["instance"].(map[string]any)
	stepB := inst["steps"].([]any)[1].(map[string]any)
	assert.Equal(t, stepB["id"], inst["current_step_id"])
	limit := stepB["time_limit"].(map[string]any)
	assert.Equal(t, storagetest.Epoch.Add(5*time.Minute).Format(time.RFC3339Nano), limit["expires_at"])

	cycle := env.call(t, "RunExpirationCycle", nil)
	assert.Equal(t, 300.0, cycle["next_wake_interval_seconds"], "deadline not reached yet")

	env.advance(6 * time.Minute)
	cycle = env.call(t, "RunExpirationCycle", nil)
	assert.Equal(t, 600.0, cycle["next_wake_interval_seconds"])

	inst = env.call(t, "GetInstance", map[string]any{
		"instance_id":   instanceID,
		"definition_id": env.def.ID,
	})["instance"].(map[string]any)
	assert.Equal(t, true, inst["is_completed"])
	assert.Equal(t, "APPROVED", inst["steps"].([]any)[1].(map[string]any)["resolution"])

	list := env.call(t, "ListInstances", map[string]any{"definition_id": env.def.ID, "completed": true})
	assert.Len(t, list["instances"].([]any), 1)
}

func TestGRPCErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	inst := env.call(t, "CreateInstance", map[string]any{"definition_id": env.def.ID})["instance"].(map[string]any)
	instanceID := inst["id"].(string)
	env.call(t, "RejectCurrentStep", map[string]any{"instance_id": instanceID})

	tests := []struct {
		name   string
		method string
		req    map[string]any
		want   codes.Code
	}{
		{"unknown definition", "CreateInstance", map[string]any{"definition_id": "missing"}, codes.NotFound},
		{"missing definition id", "CreateInstance", map[string]any{}, codes.InvalidArgument},
		{"unknown instance", "ApproveCurrentStep", map[string]any{"instance_id": "missing"}, codes.NotFound},
		{"completed instance", "ApproveCurrentStep", map[string]any{"instance_id": instanceID}, codes.FailedPrecondition},
		{"wrong workflow scope", "GetInstance", map[string]any{"instance_id": instanceID, "definition_id": "other"}, codes.NotFound},
		{"bad completed filter", "ListInstances", map[string]any{"completed": "yes"}, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.client.Call(ctx, tt.method, mustStruct(t, tt.req))
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := healthpb.NewHealthClient(env.conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := RecoveryInterceptor(nopLogger())
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x/y"},
		func(context.Context, any) (any, error) { panic("boom") })
	assert.Equal(t, codes.Internal, status.Code(err))
}

func nopLogger() *logrus.Logger {
	return applog.Discard()
}

func TestRunExpirationCycleIgnoresCallerTime(t *testing.T) {
	env := newTestEnv(t)

	inst := env.call(t, "CreateInstance", map[string]any{"definition_id": env.def.ID})["instance"].(map[string]any)
	instanceID := inst["id"].(string)
	env.call(t, "ApproveCurrentStep", map[string]any{"instance_id": instanceID})

	cycle := env.call(t, "RunExpirationCycle", map[string]any{
		"now": storagetest.Epoch.Add(time.Hour).Format(time.RFC3339Nano),
	})
	assert.Equal(t, 300.0, cycle["next_wake_interval_seconds"])

	inst = env.call(t, "GetInstance", map[string]any{"instance_id": instanceID})["instance"].(map[string]any)
	assert.Equal(t, false, inst["is_completed"], "a step must not resolve before its deadline")
	assert.Equal(t, "PENDING", inst["steps"].([]any)[1].(map[string]any)["resolution"])
}

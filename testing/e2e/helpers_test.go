package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/approvalflow/internal/bootstrap"
	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/endpoint"
	applog "github.com/example/approvalflow/internal/log"
	"github.com/example/approvalflow/internal/observability"
	"github.com/example/approvalflow/internal/service"
	"github.com/example/approvalflow/internal/storage/sqlite"
	grpctransport "github.com/example/approvalflow/internal/transport/grpc"
	"github.com/example/approvalflow/internal/web"
)

var start = time.Date(2024, 6, 3, 8, 30, 0, 0, time.UTC)

// manualClock is a Clock the test advances explicitly.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// TestEnv wires storage, service, scheduler and both transports the way the
// serve command does, with the payroll definitions loaded.
type TestEnv struct {
	Storage   *sqlite.SQLiteStorage
	Clock     *manualClock
	Metrics   *observability.Metrics
	Service   *service.WorkflowService
	Scheduler *service.ExpirationScheduler
	HTTP      *httptest.Server
	GRPC      *grpctransport.Client

	Payroll *domain.WorkflowDefinition
}

// NewTestEnv creates a new test environment with a temp database.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.New(filepath.Join(t.TempDir(), "e2e.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(ctx))

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	defs, err := bootstrap.LoadFile(filepath.Join(filepath.Dir(file), "..", "..", "definitions", "payroll.yaml"))
	require.NoError(t, err)
	_, err = bootstrap.Apply(ctx, st, defs, "e2e", start)
	require.NoError(t, err)

	env := &TestEnv{
		Storage: st,
		Clock:   &manualClock{t: start},
		Metrics: observability.NewMetrics(),
	}
	logger := applog.Discard()
	env.Service = service.NewWorkflowService(st,
		service.WithClock(env.Clock),
		service.WithLogger(logger),
		service.WithMetrics(env.Metrics),
	)
	env.Scheduler = service.NewExpirationScheduler(env.Service, service.DefaultSchedulerConfig())
	env.Service.SetExpiryNotifier(env.Scheduler)

	all, err := env.Service.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	env.Payroll = all[0]

	webServer := web.NewServer(":0", env.Service, web.WithLogger(logger), web.WithMetrics(env.Metrics))
	env.HTTP = httptest.NewServer(webServer.Handler())
	t.Cleanup(env.HTTP.Close)

	grpcServer := grpctransport.NewServer(endpoint.MakeEndpoints(env.Service, env.Scheduler),
		grpctransport.WithLogger(logger))
	lis := bufconn.Listen(1 << 20)
	go grpcServer.ServeListener(lis)
	t.Cleanup(grpcServer.GracefulStop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	env.GRPC = grpctransport.NewClient(conn)

	return env
}

// request sends a JSON request to the HTTP API and decodes the response
// into out when it is non-nil. It returns the status code.
func (e *TestEnv) request(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	code, err := e.do(method, path, body, out)
	require.NoError(t, err)
	return code
}

// do sends a JSON request and decodes the response into out. It never fails
// the test, so it is safe to call from spawned goroutines.
func (e *TestEnv) do(method, path string, body, out any) (int, error) {
	reader := bytes.NewReader(nil)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.HTTP.URL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.HTTP.Client().Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

func (e *TestEnv) createInstance(t *testing.T) web.WorkflowInstanceDetail {
	t.Helper()
	var inst web.WorkflowInstanceDetail
	code := e.request(t, http.MethodPost, "/api/workflows/"+e.Payroll.ID+"/create-new-instance", nil, &inst)
	require.Equal(t, http.StatusCreated, code)
	return inst
}

func (e *TestEnv) decide(t *testing.T, instanceID, verb, actor string) web.WorkflowInstanceDetail {
	t.Helper()
	var inst web.WorkflowInstanceDetail
	path := "/api/workflows/" + e.Payroll.ID + "/instances/" + instanceID + "/" + verb
	code := e.request(t, http.MethodPost, path, web.DecisionBody{Actor: actor}, &inst)
	require.Equal(t, http.StatusOK, code)
	return inst
}

func (e *TestEnv) call(t *testing.T, method string, req map[string]any) (map[string]any, error) {
	t.Helper()
	s, err := structpb.NewStruct(req)
	require.NoError(t, err)
	resp, err := e.GRPC.Call(context.Background(), method, s)
	if err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

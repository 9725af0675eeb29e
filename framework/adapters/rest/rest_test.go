package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/events"
	"github.com/akriventsev/activities/framework/observability"
	"github.com/akriventsev/activities/framework/store"
	"github.com/akriventsev/activities/framework/workflow"
)

const (
	sumYAML = `
name: sum
description: adds two numbers
activity:
  activity: eval
  value: "js: input.a + input.b"
`
	slowYAML = `
name: slow
activity:
  - activity: delay
    duration: 200ms
  - activity: eval
    value: done
`
	sleepyYAML = `
name: sleepy
activity:
  activity: delay
  duration: 1m
`
)

type fixture struct {
	server *Server
	runner *workflow.Runner
	bus    *events.InMemoryEventBus
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	exec := activity.NewExecutor(activity.NewRegistry())
	reg := workflow.NewRegistry(exec.Resolver())
	for name, src := range map[string]string{"sum.yaml": sumYAML, "slow.yaml": slowYAML, "sleepy.yaml": sleepyYAML} {
		def, err := workflow.ParseDefinition([]byte(src), name)
		require.NoError(t, err)
		require.NoError(t, reg.Register(def))
	}
	bus := events.NewInMemoryEventBus()
	runner := workflow.NewRunner(exec, reg, store.NewMemoryStore()).WithEvents(bus)
	t.Cleanup(func() { _ = runner.Shutdown(context.Background()) })

	cfg := DefaultConfig()
	cfg.Mode = "test"
	cfg.RateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg, runner)
	require.NoError(t, err)

	debug := observability.NewDebugManager(observability.DefaultDebugConfig())
	debug.RegisterHealthCheck(observability.NewCheck("runner", func(ctx context.Context) error { return nil }))
	srv.WithHealth(debug).
		WithEvents(bus).
		WithMetricsHandler("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}))
	return &fixture{server: srv, runner: runner, bus: bus}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestListWorkflows(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/v1/workflows", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string][]WorkflowInfo](t, w)
	require.Len(t, body["workflows"], 3)
	assert.Equal(t, "sleepy", body["workflows"][0].Name)
	assert.Equal(t, "adds two numbers", body["workflows"][2].Description)
}

func TestStartRunAndWait(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/v1/workflows/sum/runs?wait=true", StartRunRequest{
		Input: map[string]any{"a": 2, "b": 3},
		RunID: "sum-1",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get(observability.CorrelationIDHeader))

	rec := decode[store.RunRecord](t, w)
	assert.Equal(t, "sum-1", rec.ID)
	assert.Equal(t, activity.RunCompleted, rec.State)
	assert.Equal(t, workflow.TriggerAPI, rec.Trigger)
	assert.EqualValues(t, 5, rec.Result)

	w = f.do(t, http.MethodPost, "/api/v1/workflows/sum/runs?wait=true", StartRunRequest{RunID: "sum-1"})
	assert.Equal(t, http.StatusConflict, w.Code, "run ids are unique")
}

func TestStartRunAsync(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodPost, "/api/v1/workflows/slow/runs", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	rec := decode[store.RunRecord](t, w)
	assert.Equal(t, activity.RunPending, rec.State)
	assert.Equal(t, "/api/v1/runs/"+rec.ID, w.Header().Get("Location"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.runner.Wait(ctx, rec.ID)
	require.NoError(t, err)

	w = f.do(t, http.MethodGet, "/api/v1/runs/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[store.RunRecord](t, w)
	assert.Equal(t, activity.RunCompleted, got.State)
	assert.Equal(t, "done", got.Result)
	assert.NotEmpty(t, got.Statuses)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/workflows/missing/runs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "WORKFLOW_NOT_FOUND", decode[ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodGet, "/api/v1/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RUN_NOT_FOUND", decode[ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodDelete, "/api/v1/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/workflows/sum/runs", map[string]any{"unexpected": true})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "validation_failed", resp.Error)
	assert.NotEmpty(t, resp.Details)

	w = f.do(t, http.MethodGet, "/api/v1/runs?state=exploded", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/runs?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f = newFixture(t, func(c *Config) { c.ValidateRequests = false })
	w = f.do(t, http.MethodPost, "/api/v1/workflows/sum/runs?wait=true", map[string]any{"input": map[string]any{"a": 1, "b": 1}, "unexpected": true})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCancelRun(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodPost, "/api/v1/workflows/sleepy/runs", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[store.RunRecord](t, w).ID

	w = f.do(t, http.MethodDelete, "/api/v1/runs/"+id, nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rec, err := f.runner.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, activity.RunCancelled, rec.State)

	w = f.do(t, http.MethodDelete, "/api/v1/runs/"+id, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "RUN_FINISHED", decode[ErrorResponse](t, w).Code)
}

func TestListRuns(t *testing.T) {
	f := newFixture(t, nil)
	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/workflows/sum/runs?wait=true", StartRunRequest{Input: map[string]any{"a": i, "b": 1}})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := f.do(t, http.MethodPost, "/api/v1/workflows/slow/runs?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/runs?workflow=sum&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[RunList](t, w)
	assert.Equal(t, 2, list.Count)
	for _, rec := range list.Runs {
		assert.Equal(t, "sum", rec.Workflow)
	}

	w = f.do(t, http.MethodGet, "/api/v1/runs?state=completed", nil)
	assert.Equal(t, 4, decode[RunList](t, w).Count)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "# metrics", w.Body.String())

	w = f.do(t, http.MethodGet, "/openapi.yaml", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "openapi: 3.0.3"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RateLimit = 1
		c.RateBurst = 1
	})
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/workflows", nil).Code)
	w := f.do(t, http.MethodGet, "/api/v1/workflows", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).Code, "health is not limited")
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))
	assert.Equal(t, 2, rl.Size())

	rl.idle = 0
	time.Sleep(time.Millisecond)
	rl.Cleanup()
	assert.Equal(t, 0, rl.Size())
}

func TestRateLimiterPeriodicCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	rl.idle = 0
	rl.Allow("a")
	rl.Allow("b")

	rl.StartCleanup(5 * time.Millisecond)
	rl.StartCleanup(5 * time.Millisecond)
	assert.True(t, rl.CleanupRunning())
	assert.Eventually(t, func() bool { return rl.Size() == 0 }, time.Second, 5*time.Millisecond)

	rl.StopCleanup()
	rl.StopCleanup()
	assert.False(t, rl.CleanupRunning())
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RateBurst = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Mode = "turbo"
	assert.Error(t, cfg.Validate())
}

func TestStreamRunEvents(t *testing.T) {
	f := newFixture(t, nil)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	rec, err := f.runner.Start(context.Background(), "slow", nil)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/runs/" + rec.ID + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var messages []map[string]any
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		messages = append(messages, msg)
	}

	require.NotEmpty(t, messages)
	assert.Equal(t, StreamSnapshot, messages[0]["type"])

	last := messages[len(messages)-1]
	if last["type"] == StreamSnapshot {
		assert.Equal(t, "completed", last["run"].(map[string]any)["state"])
	} else {
		assert.Equal(t, events.RunCompleted, last["event"].(map[string]any)["type"])
	}
	assert.Eventually(t, func() bool {
		return f.bus.HandlerCount(events.AllEvents) == 0
	}, time.Second, 10*time.Millisecond, "stream unsubscribes when closed")
}

func TestStreamRunEventsUnknownRun(t *testing.T) {
	f := newFixture(t, nil)
	w := f.do(t, http.MethodGet, "/api/v1/runs/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServerLifecycle(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Addr = "127.0.0.1:0" })
	ctx := context.Background()

	require.NoError(t, f.server.Start(ctx))
	assert.True(t, f.server.IsRunning())

	resp, err := http.Get("http://" + f.server.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, f.server.Stop(ctx))
	assert.False(t, f.server.IsRunning())
}

func TestServerLifecycleRunsLimiterCleanup(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Addr = "127.0.0.1:0"
		c.RateLimit = 100
		c.RateBurst = 10
		c.RateCleanup = 10 * time.Millisecond
	})
	ctx := context.Background()
	require.NotNil(t, f.server.limiter)
	assert.False(t, f.server.limiter.CleanupRunning())
	f.server.limiter.idle = 0

	require.NoError(t, f.server.Start(ctx))
	assert.True(t, f.server.limiter.CleanupRunning())

	f.server.limiter.Allow("10.0.0.1")
	assert.Eventually(t, func() bool { return f.server.limiter.Size() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, f.server.Stop(ctx))
	assert.False(t, f.server.limiter.CleanupRunning())
}

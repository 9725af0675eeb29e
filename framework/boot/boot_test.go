package boot

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/config"
	"github.com/akriventsev/activities/framework/container"
	"github.com/akriventsev/activities/framework/core"
	"github.com/akriventsev/activities/framework/logging"
	"github.com/akriventsev/activities/framework/scheduler"
	"github.com/akriventsev/activities/framework/store"
	"github.com/akriventsev/activities/framework/workflow"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Workflows.Dir = t.TempDir()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Enabled = false
	cfg.Scheduler.Enabled = false
	return cfg
}

func TestNewCoreOnly(t *testing.T) {
	ctx := context.Background()
	def := &workflow.Definition{
		Name: "quote",
		Activity: map[string]any{
			"activity": "invoke",
			"target":   "prices",
			"method":   "quote",
			"args":     "$.input",
		},
	}
	prices := activity.InvokerFunc(func(ctx context.Context, method string, args any) (any, error) {
		return map[string]any{"method": method, "symbol": args}, nil
	})

	app, err := New(ctx, testConfig(t),
		WithoutServers(),
		WithLogger(logging.Nop()),
		WithService("prices", prices),
		WithDefinitions(def),
	)
	require.NoError(t, err)
	assert.Nil(t, app.HTTP())

	require.NoError(t, app.Start(ctx))
	rec, err := app.Runner().Execute(ctx, "quote", "ACME", workflow.WithTrigger(workflow.TriggerEmbedded))
	require.NoError(t, err)
	assert.Equal(t, activity.RunCompleted, rec.State)
	assert.Equal(t, map[string]any{"method": "quote", "symbol": "ACME"}, rec.Result)

	runStore, err := container.Get[store.RunStore](app.Container(), ServiceStore)
	require.NoError(t, err)
	saved, err := runStore.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.RunCompleted, saved.State)

	require.NoError(t, app.Stop(ctx))
}

func TestNewLoadsWorkflowDir(t *testing.T) {
	cfg := testConfig(t)
	data := []byte("name: double\nactivity:\n  activity: eval\n  value: \"js: input * 2\"\n")
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Workflows.Dir, "double.yaml"), data, 0o600))

	app, err := New(context.Background(), cfg, WithoutServers(), WithLogger(logging.Nop()))
	require.NoError(t, err)
	defer func() { _ = app.Stop(context.Background()) }()

	names := make([]string, 0)
	for _, def := range app.Workflows().List() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"double"}, names)
}

func TestNewMissingWorkflowDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workflows.Dir = filepath.Join(cfg.Workflows.Dir, "absent")

	app, err := New(context.Background(), cfg, WithoutServers(), WithLogger(logging.Nop()))
	require.NoError(t, err)
	assert.Empty(t, app.Workflows().List())
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "cassandra"

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewDuplicateService(t *testing.T) {
	_, err := New(context.Background(), testConfig(t),
		WithoutServers(),
		WithLogger(logging.Nop()),
		WithService(ServiceRunner, "shadow"),
	)
	assert.Error(t, err)
}

func TestApplicationServes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	def := &workflow.Definition{Name: "noop", Activity: map[string]any{"activity": "eval", "value": 1}}

	app, err := New(ctx, cfg, WithLogger(logging.Nop()), WithStore(store.NewMemoryStore()), WithDefinitions(def))
	require.NoError(t, err)

	order, err := app.Container().Components().Order()
	require.NoError(t, err)
	assert.Less(t, indexOf(order, "store"), indexOf(order, "runner"))
	assert.Less(t, indexOf(order, "runner"), indexOf(order, "rest-api"))
	assert.Less(t, indexOf(order, "runner"), indexOf(order, "bus-trigger"))

	require.NoError(t, app.Start(ctx))
	defer func() { require.NoError(t, app.Stop(ctx)) }()

	services := app.Services()
	require.Len(t, services, 1)
	assert.Equal(t, core.ComponentTypeTransport, services[0].Type())
	assert.True(t, services[0].IsRunning())

	resp, err := http.Get("http://" + app.HTTP().Addr() + "/api/v1/workflows")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Workflows []map[string]any `json:"workflows"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Workflows, 1)
	assert.Equal(t, "noop", body.Workflows[0]["name"])

	health, err := http.Get("http://" + app.HTTP().Addr() + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestApplicationServicesWithScheduler(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Jobs = []scheduler.Job{{Name: "hourly", Spec: "@hourly", Workflow: "noop"}}
	def := &workflow.Definition{Name: "noop", Activity: map[string]any{"activity": "eval", "value": 1}}

	app, err := New(ctx, cfg, WithLogger(logging.Nop()), WithDefinitions(def))
	require.NoError(t, err)
	require.NoError(t, app.Start(ctx))
	defer func() { require.NoError(t, app.Stop(ctx)) }()

	types := make(map[string]core.ComponentType)
	for _, svc := range app.Services() {
		types[svc.Name()] = svc.Type()
		assert.True(t, svc.IsRunning(), svc.Name())
	}
	assert.Equal(t, map[string]core.ComponentType{
		"rest-api":  core.ComponentTypeTransport,
		"scheduler": core.ComponentTypeTrigger,
	}, types)
}

func indexOf(items []string, name string) int {
	for i, item := range items {
		if item == name {
			return i
		}
	}
	return -1
}

package workflow

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/core"
	"github.com/akriventsev/activities/framework/events"
	"github.com/akriventsev/activities/framework/store"
)

const greetYAML = `
name: greet
description: greets the caller
timeout: 5s
activity:
  - activity: assign
    name: greeting
    value: "js: 'hello ' + input.name"
  - activity: eval
    value: $.data.greeting
`

func newTestRunner(t *testing.T, defs ...*Definition) *Runner {
	t.Helper()
	exec := activity.NewExecutor(activity.NewRegistry())
	reg := NewRegistry(exec.Resolver())
	for _, def := range defs {
		require.NoError(t, reg.Register(def))
	}
	return NewRunner(exec, reg, store.NewMemoryStore())
}

func mustParse(t *testing.T, data, filename string) *Definition {
	t.Helper()
	def, err := ParseDefinition([]byte(data), filename)
	require.NoError(t, err)
	return def
}

func TestParseDefinition(t *testing.T) {
	def := mustParse(t, greetYAML, "greet.yaml")
	assert.Equal(t, "greet", def.Name)
	timeout, err := def.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, timeout)
	assert.Len(t, def.Activity, 2)

	def = mustParse(t, `{"activity": "sequence"}`, "empty.json")
	assert.Equal(t, "empty", def.Name, "name defaults to file name")

	_, err = ParseDefinition([]byte(`{"name": "x"}`), "x.json")
	assert.Error(t, err)

	_, err = ParseDefinition([]byte(`{"name": "x", "activity": "a", "timeout": "soon"}`), "x.json")
	assert.Error(t, err)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greet.yaml"), []byte(greetYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "noop.json"), []byte(`{"name":"noop","activity":[]}`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("skip"), 0o600))

	defs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "greet", defs[0].Name)
	assert.Equal(t, "noop", defs[1].Name)

	exec := activity.NewExecutor(activity.NewRegistry())
	reg := NewRegistry(exec.Resolver())
	require.NoError(t, reg.LoadDir(dir))
	assert.Len(t, reg.List(), 2)
}

func TestRegistry(t *testing.T) {
	exec := activity.NewExecutor(activity.NewRegistry())
	reg := NewRegistry(exec.Resolver())

	require.NoError(t, reg.Register(&Definition{Name: "b", Activity: "sequence"}))
	require.NoError(t, reg.Register(&Definition{Name: "a", Activity: []any{}}))

	err := reg.Register(&Definition{Name: "a", Activity: "sequence"})
	assert.True(t, core.HasCode(err, core.ErrAlreadyExists))
	require.NoError(t, reg.Replace(&Definition{Name: "a", Activity: "sequence"}))

	err = reg.Register(&Definition{Name: "c", Activity: "no-such-activity"})
	assert.True(t, core.HasCode(err, core.ErrUnknownActivity))

	_, err = reg.Get("missing")
	assert.True(t, core.HasCode(err, core.ErrWorkflowNotFound))

	names := []string{}
	for _, def := range reg.List() {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestRunner_Execute(t *testing.T) {
	runner := newTestRunner(t, mustParse(t, greetYAML, "greet.yaml"))

	rec, err := runner.Execute(context.Background(), "greet", map[string]any{"name": "bob"}, WithTrigger(TriggerCLI))
	require.NoError(t, err)
	assert.Equal(t, activity.RunCompleted, rec.State)
	assert.Equal(t, "hello bob", rec.Result)
	assert.Equal(t, "hello bob", rec.Variables["greeting"])
	assert.Equal(t, TriggerCLI, rec.Trigger)
	assert.NotEmpty(t, rec.Statuses)
	require.NotNil(t, rec.FinishedAt)

	stored, err := runner.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.RunCompleted, stored.State)
}

func TestRunner_ExecuteUnknownWorkflow(t *testing.T) {
	runner := newTestRunner(t)
	_, err := runner.Execute(context.Background(), "missing", nil)
	assert.True(t, core.HasCode(err, core.ErrWorkflowNotFound))
}

func TestRunner_FailedRunPublishesEvents(t *testing.T) {
	runner := newTestRunner(t, &Definition{
		Name:     "boom",
		Activity: map[string]any{"activity": "throw", "error": "Boom", "message": "exploded"},
	})

	bus := events.NewInMemoryEventBus()
	var (
		mu    sync.Mutex
		types []string
	)
	_, err := bus.Subscribe(events.AllEvents, events.HandlerFunc(func(ctx context.Context, ev events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, ev.EventType())
		return nil
	}))
	require.NoError(t, err)
	runner.WithEvents(bus)

	rec, err := runner.Execute(context.Background(), "boom", nil)
	require.NoError(t, err)
	assert.Equal(t, activity.RunFailed, rec.State)
	assert.Contains(t, rec.Error, "exploded")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{events.RunStarted, events.RunFailed}, types)
}

func TestRunner_StartAndWait(t *testing.T) {
	runner := newTestRunner(t, mustParse(t, greetYAML, "greet.yaml"))

	rec, err := runner.Start(context.Background(), "greet", map[string]any{"name": "ann"}, WithRunID("run-1"))
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, activity.RunPending, rec.State)

	done, err := runner.Wait(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, activity.RunCompleted, done.State)
	assert.Equal(t, "hello ann", done.Result)
	assert.Equal(t, 0, runner.ActiveCount())

	list, err := runner.List(context.Background(), store.Filter{Workflow: "greet"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRunner_DuplicateExplicitIDConcurrent(t *testing.T) {
	runner := newTestRunner(t, mustParse(t, greetYAML, "greet.yaml"))
	ctx := context.Background()

	const attempts = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		started   int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := runner.Start(ctx, "greet", map[string]any{"name": "ann"}, WithRunID("same-id"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				started++
			} else if core.HasCode(err, core.ErrAlreadyExists) {
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, attempts-1, conflicts)

	done, err := runner.Wait(ctx, "same-id")
	require.NoError(t, err)
	assert.Equal(t, activity.RunCompleted, done.State)

	list, err := runner.List(ctx, store.Filter{Workflow: "greet"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRunner_Cancel(t *testing.T) {
	runner := newTestRunner(t, &Definition{
		Name:     "slow",
		Activity: map[string]any{"activity": "delay", "duration": "10s"},
	})

	rec, err := runner.Start(context.Background(), "slow", nil)
	require.NoError(t, err)
	require.NoError(t, runner.Cancel(context.Background(), rec.ID))

	done, err := runner.Wait(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.RunCancelled, done.State)

	err = runner.Cancel(context.Background(), rec.ID)
	assert.True(t, core.HasCode(err, core.ErrRunFinished))

	err = runner.Cancel(context.Background(), "missing")
	assert.True(t, store.IsNotFound(err))
}

func TestRunner_Timeout(t *testing.T) {
	runner := newTestRunner(t, &Definition{
		Name:     "slow",
		Timeout:  "50ms",
		Activity: map[string]any{"activity": "delay", "duration": "10s"},
	})

	start := time.Now()
	rec, err := runner.Execute(context.Background(), "slow", nil)
	require.NoError(t, err)
	assert.Equal(t, activity.RunCancelled, rec.State)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunner_Shutdown(t *testing.T) {
	runner := newTestRunner(t, &Definition{
		Name:     "slow",
		Activity: map[string]any{"activity": "delay", "duration": "10s"},
	})

	rec, err := runner.Start(context.Background(), "slow", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(ctx))

	stored, err := runner.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, activity.RunCancelled, stored.State)

	_, err = runner.Start(context.Background(), "slow", nil)
	assert.Error(t, err)
}

func TestBundledWorkflow(t *testing.T) {
	def, err := LoadDefinition(filepath.Join("..", "..", "workflows", "score-orders.yaml"))
	require.NoError(t, err)
	runner := newTestRunner(t, def)
	ctx := context.Background()

	rec, err := runner.Execute(ctx, "score-orders", map[string]any{
		"lines": []any{
			map[string]any{"sku": "A-1", "qty": 5, "price": 200},
			map[string]any{"sku": "B-2", "qty": 1, "price": 250},
		},
	})
	require.NoError(t, err)
	require.Equal(t, activity.RunCompleted, rec.State, rec.Error)
	assert.EqualValues(t, 1250, rec.Result)

	rec, err = runner.Execute(ctx, "score-orders", map[string]any{})
	require.NoError(t, err)
	require.Equal(t, activity.RunCompleted, rec.State, rec.Error)
	assert.EqualValues(t, 0, rec.Result)
}

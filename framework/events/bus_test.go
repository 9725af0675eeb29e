package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/activities/framework/activity"
)

func TestInMemoryEventBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryEventBus()

	var got []string
	unsubscribe, err := bus.Subscribe(RunStarted, HandlerFunc(func(ctx context.Context, e Event) error {
		got = append(got, e.RunID())
		return nil
	}))
	require.NoError(t, err)

	var all []string
	_, err = bus.Subscribe(AllEvents, HandlerFunc(func(ctx context.Context, e Event) error {
		all = append(all, e.EventType())
		return nil
	}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(t.Context(), NewRunEvent(RunStarted, "r1", "wf", "running")))
	require.NoError(t, bus.Publish(t.Context(), NewRunEvent(RunCompleted, "r1", "wf", "completed")))
	assert.Equal(t, []string{"r1"}, got)
	assert.Equal(t, []string{RunStarted, RunCompleted}, all)

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, bus.HandlerCount(RunStarted))
	require.NoError(t, bus.Publish(t.Context(), NewRunEvent(RunStarted, "r2", "wf", "running")))
	assert.Equal(t, []string{"r1"}, got)
}

func TestInMemoryEventBus_CollectsHandlerErrors(t *testing.T) {
	bus := NewInMemoryEventBus()
	fail := HandlerFunc(func(ctx context.Context, e Event) error { return errors.New("boom") })
	_, _ = bus.Subscribe(RunFailed, fail)
	_, _ = bus.Subscribe(RunFailed, fail)

	err := bus.Publish(t.Context(), NewRunEvent(RunFailed, "r1", "wf", "failed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
}

func TestInMemoryEventBus_Retry(t *testing.T) {
	bus := NewInMemoryEventBus().WithRetry(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiplier: 2})

	attempts := 0
	_, _ = bus.Subscribe(RunStarted, HandlerFunc(func(ctx context.Context, e Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, bus.Publish(t.Context(), NewRunEvent(RunStarted, "r1", "wf", "running")))
	assert.Equal(t, 3, attempts)
}

func TestInMemoryEventBus_Middleware(t *testing.T) {
	bus := NewInMemoryEventBus()
	var order []string
	bus.WithMiddleware(func(ctx context.Context, e Event, next func(context.Context, Event) error) error {
		order = append(order, "mw")
		return next(ctx, e)
	})
	_, _ = bus.Subscribe(RunStarted, HandlerFunc(func(ctx context.Context, e Event) error {
		order = append(order, "handler")
		return nil
	}))

	require.NoError(t, bus.Publish(t.Context(), NewRunEvent(RunStarted, "r1", "wf", "running")))
	assert.Equal(t, []string{"mw", "handler"}, order)
}

func TestInMemoryEventBus_Shutdown(t *testing.T) {
	bus := NewInMemoryEventBus()
	require.NoError(t, bus.Shutdown(t.Context()))
	require.NoError(t, bus.Shutdown(t.Context()))
	assert.Error(t, bus.Publish(t.Context(), NewRunEvent(RunStarted, "r1", "wf", "running")))
}

func TestActivityInterceptor(t *testing.T) {
	bus := NewInMemoryEventBus()
	var mu sync.Mutex
	var events []*ActivityEvent
	_, _ = bus.Subscribe(AllEvents, HandlerFunc(func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e.(*ActivityEvent))
		return nil
	}))

	exec := activity.NewExecutor(activity.NewRegistry()).WithInterceptor(ActivityInterceptor(bus))
	_, err := exec.Run(t.Context(), []any{
		map[string]any{"activity": "assign", "name": "x", "value": 1},
		map[string]any{"activity": "throw", "error": "Stop"},
	}, nil)
	require.Error(t, err)

	var types []string
	for _, e := range events {
		types = append(types, e.EventType()+" "+e.Selector)
	}
	assert.Equal(t, []string{
		"activity.started sequence",
		"activity.started assign",
		"activity.completed assign",
		"activity.started throw",
		"activity.failed throw",
		"activity.failed sequence",
	}, types)
	assert.Equal(t, "Stop", events[4].Error[len(events[4].Error)-4:])
}

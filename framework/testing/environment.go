// Package testing предоставляет утилиты для тестирования рабочих процессов.
package testing

import (
	"context"
	"sync"
	"testing"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/adapters/messagebus"
	"github.com/akriventsev/activities/framework/events"
	"github.com/akriventsev/activities/framework/store"
	"github.com/akriventsev/activities/framework/workflow"
)

// InMemoryTestEnvironment тестовая среда с готовыми in-memory компонентами
type InMemoryTestEnvironment struct {
	Activities *activity.Registry
	Executor   *activity.Executor
	Workflows  *workflow.Registry
	Runner     *workflow.Runner
	Store      *store.MemoryStore
	EventBus   *events.InMemoryEventBus
	MessageBus *messagebus.InMemoryAdapter
	Recorder   *EventRecorder
}

// NewInMemoryTestEnvironment создает тестовую среду и регистрирует определения.
// Ошибки сборки завершают тест через t.Fatalf, остановка выполняется в t.Cleanup.
func NewInMemoryTestEnvironment(t *testing.T, defs ...*workflow.Definition) *InMemoryTestEnvironment {
	t.Helper()

	env := &InMemoryTestEnvironment{
		Activities: activity.NewRegistry(),
		Store:      store.NewMemoryStore(),
		EventBus:   events.NewInMemoryEventBus(),
		MessageBus: messagebus.NewInMemoryAdapter(messagebus.DefaultInMemoryConfig()),
		Recorder:   &EventRecorder{},
	}
	env.Executor = activity.NewExecutor(env.Activities).
		WithInterceptor(events.ActivityInterceptor(env.EventBus))
	env.Workflows = workflow.NewRegistry(env.Executor.Resolver())
	env.Runner = workflow.NewRunner(env.Executor, env.Workflows, env.Store).WithEvents(env.EventBus)

	for _, def := range defs {
		if err := env.Workflows.Register(def); err != nil {
			t.Fatalf("failed to register workflow %s: %v", def.Name, err)
		}
	}
	if _, err := env.EventBus.Subscribe(events.AllEvents, env.Recorder); err != nil {
		t.Fatalf("failed to subscribe recorder: %v", err)
	}
	if err := env.MessageBus.Start(context.Background()); err != nil {
		t.Fatalf("failed to start message bus: %v", err)
	}

	t.Cleanup(func() {
		if err := env.Shutdown(context.Background()); err != nil {
			t.Errorf("failed to shutdown test environment: %v", err)
		}
	})
	return env
}

// Execute синхронно выполняет рабочий процесс и завершает тест при ошибке запуска
func (e *InMemoryTestEnvironment) Execute(t *testing.T, name string, input any) *store.RunRecord {
	t.Helper()
	rec, err := e.Runner.Execute(context.Background(), name, input)
	if err != nil {
		t.Fatalf("failed to execute workflow %s: %v", name, err)
	}
	return rec
}

// Shutdown корректно завершает работу тестовой среды
func (e *InMemoryTestEnvironment) Shutdown(ctx context.Context) error {
	if err := e.Runner.Shutdown(ctx); err != nil {
		return err
	}
	if err := e.MessageBus.Stop(ctx); err != nil {
		return err
	}
	return e.EventBus.Shutdown(ctx)
}

// EventRecorder запоминает опубликованные события
type EventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

// Handle реализует events.EventHandler
func (r *EventRecorder) Handle(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events возвращает копию записанных событий
func (r *EventRecorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types возвращает типы событий указанного запуска в порядке публикации
func (r *EventRecorder) Types(runID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, event := range r.events {
		if event.RunID() == runID {
			types = append(types, event.EventType())
		}
	}
	return types
}

// Reset очищает записанные события
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Package events предоставляет события жизненного цикла запусков и активностей
// и шину для их доставки подписчикам.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Типы событий
const (
	RunStarted   = "run.started"
	RunCompleted = "run.completed"
	RunFailed    = "run.failed"
	RunCancelled = "run.cancelled"

	ActivityStarted   = "activity.started"
	ActivityCompleted = "activity.completed"
	ActivityFailed    = "activity.failed"

	// AllEvents подписка на все типы событий
	AllEvents = "*"
)

// Event событие запуска
type Event interface {
	// EventID возвращает уникальный идентификатор события
	EventID() string
	// EventType возвращает тип события
	EventType() string
	// OccurredAt возвращает время возникновения события
	OccurredAt() time.Time
	// RunID возвращает идентификатор запуска
	RunID() string
	// Metadata возвращает метаданные события
	Metadata() EventMetadata
}

// EventMetadata метаданные события
type EventMetadata map[string]interface{}

// Get получает значение метаданных по ключу
func (m EventMetadata) Get(key string) (interface{}, bool) {
	val, ok := m[key]
	return val, ok
}

// CorrelationID возвращает correlation ID
func (m EventMetadata) CorrelationID() string {
	if id, ok := m["correlation_id"].(string); ok {
		return id
	}
	return ""
}

// BaseEvent базовая реализация события
type BaseEvent struct {
	ID   string        `json:"id"`
	Type string        `json:"type"`
	Time time.Time     `json:"time"`
	Run  string        `json:"run_id"`
	Meta EventMetadata `json:"metadata,omitempty"`
}

// NewBaseEvent создает новое базовое событие
func NewBaseEvent(eventType, runID string) BaseEvent {
	return BaseEvent{
		ID:   uuid.NewString(),
		Type: eventType,
		Time: time.Now().UTC(),
		Run:  runID,
		Meta: make(EventMetadata),
	}
}

// WithMetadata добавляет метаданные к событию
func (e *BaseEvent) WithMetadata(key string, value interface{}) *BaseEvent {
	if e.Meta == nil {
		e.Meta = make(EventMetadata)
	}
	e.Meta[key] = value
	return e
}

// WithCorrelationID устанавливает correlation ID
func (e *BaseEvent) WithCorrelationID(id string) *BaseEvent {
	return e.WithMetadata("correlation_id", id)
}

func (e BaseEvent) EventID() string         { return e.ID }
func (e BaseEvent) EventType() string       { return e.Type }
func (e BaseEvent) OccurredAt() time.Time   { return e.Time }
func (e BaseEvent) RunID() string           { return e.Run }
func (e BaseEvent) Metadata() EventMetadata { return e.Meta }

// RunEvent событие смены состояния запуска
type RunEvent struct {
	BaseEvent
	Workflow string        `json:"workflow"`
	State    string        `json:"state"`
	Result   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// NewRunEvent создает событие запуска
func NewRunEvent(eventType, runID, workflow, state string) *RunEvent {
	return &RunEvent{BaseEvent: NewBaseEvent(eventType, runID), Workflow: workflow, State: state}
}

// ActivityEvent событие выполнения узла
type ActivityEvent struct {
	BaseEvent
	Path     string        `json:"path"`
	Selector string        `json:"selector"`
	Kind     string        `json:"kind"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// NewActivityEvent создает событие узла
func NewActivityEvent(eventType, runID, path, selector, kind string) *ActivityEvent {
	return &ActivityEvent{
		BaseEvent: NewBaseEvent(eventType, runID),
		Path:      path,
		Selector:  selector,
		Kind:      kind,
	}
}

// EventHandler обработчик событий
type EventHandler interface {
	// Handle обрабатывает событие
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc функция-обработчик
type HandlerFunc func(ctx context.Context, event Event) error

// Handle реализует EventHandler
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// EventPublisher публикатор событий
type EventPublisher interface {
	// Publish публикует событие
	Publish(ctx context.Context, event Event) error
}

// EventSubscriber подписчик на события
type EventSubscriber interface {
	// Subscribe подписывается на тип события и возвращает функцию отписки
	Subscribe(eventType string, handler EventHandler) (func(), error)
}

// EventBus объединяет Publisher и Subscriber
type EventBus interface {
	EventPublisher
	EventSubscriber
}

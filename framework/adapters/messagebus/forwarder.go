package messagebus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/akriventsev/activities/framework/events"
)

// Forwarder пересылает события запусков в брокер в subject <prefix>.events.<type>
type Forwarder struct {
	publisher Publisher
	prefix    string
}

// NewForwarder создает пересылку событий
func NewForwarder(publisher Publisher, prefix string) *Forwarder {
	return &Forwarder{publisher: publisher, prefix: prefix}
}

// Subject возвращает subject для типа события
func (f *Forwarder) Subject(eventType string) string {
	return f.prefix + ".events." + eventType
}

// Handle реализует events.EventHandler
func (f *Forwarder) Handle(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.EventType(), err)
	}
	headers := map[string]string{HeaderRunID: event.RunID()}
	if id := event.Metadata().CorrelationID(); id != "" {
		headers[HeaderCorrelationID] = id
	}
	if ev, ok := event.(*events.RunEvent); ok {
		headers[HeaderWorkflow] = ev.Workflow
	}
	InjectTraceHeaders(ctx, headers)
	return f.publisher.Publish(ctx, f.Subject(event.EventType()), data, headers)
}

// Attach подписывает пересылку на события запусков. Возвращает функцию отписки.
func (f *Forwarder) Attach(subscriber events.EventSubscriber, eventTypes ...string) (func(), error) {
	if len(eventTypes) == 0 {
		eventTypes = []string{events.RunStarted, events.RunCompleted, events.RunFailed, events.RunCancelled}
	}
	unsubs := make([]func(), 0, len(eventTypes))
	unsubscribe := func() {
		for _, u := range unsubs {
			u()
		}
	}
	for _, eventType := range eventTypes {
		u, err := subscriber.Subscribe(eventType, f)
		if err != nil {
			unsubscribe()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
		}
		unsubs = append(unsubs, u)
	}
	return unsubscribe, nil
}

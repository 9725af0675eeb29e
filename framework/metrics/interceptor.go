package metrics

import (
	"context"
	"time"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/events"
)

// Interceptor записывает метрики каждого выполненного узла
func Interceptor(m *Metrics) activity.Interceptor {
	return func(ctx *activity.Context, a activity.Activity, next activity.Handler) (any, error) {
		start := time.Now()
		result, err := next(ctx)
		m.RecordActivity(ctx.Context(), a.Selector(), string(a.Kind()), time.Since(start), err == nil)
		return result, err
	}
}

// EventMiddleware считает опубликованные события шины
func EventMiddleware(m *Metrics) events.EventMiddleware {
	return func(ctx context.Context, event events.Event, next func(ctx context.Context, event events.Event) error) error {
		m.RecordEvent(ctx, event.EventType())
		return next(ctx, event)
	}
}

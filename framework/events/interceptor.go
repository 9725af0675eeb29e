package events

import (
	"time"

	"github.com/akriventsev/activities/framework/activity"
)

// ActivityInterceptor публикует события начала и завершения каждого узла.
// Ошибки публикации пишутся в лог и не влияют на выполнение.
func ActivityInterceptor(publisher EventPublisher) activity.Interceptor {
	return func(ctx *activity.Context, a activity.Activity, next activity.Handler) (any, error) {
		start := time.Now()
		publish := func(eventType string, err error) {
			ev := NewActivityEvent(eventType, ctx.RunID(), ctx.Path(), a.Selector(), string(a.Kind()))
			if eventType != ActivityStarted {
				ev.Duration = time.Since(start)
			}
			if err != nil {
				ev.Error = err.Error()
			}
			if perr := publisher.Publish(ctx.Context(), ev); perr != nil {
				ctx.Logger().WithError(perr).Warn("failed to publish activity event")
			}
		}

		publish(ActivityStarted, nil)
		result, err := next(ctx)
		if err != nil {
			publish(ActivityFailed, err)
		} else {
			publish(ActivityCompleted, nil)
		}
		return result, err
	}
}

package activity

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/akriventsev/activities/framework/core"
)

// LoggingInterceptor пишет в лог запуска начало и завершение каждого узла
func LoggingInterceptor() Interceptor {
	return func(ctx *Context, a Activity, next Handler) (any, error) {
		start := time.Now()
		log := ctx.Logger().WithField("activity", a.Selector())
		log.Debug("activity started")

		result, err := next(ctx)

		log = log.WithField("duration", time.Since(start))
		if err != nil {
			log.WithError(err).Debug("activity failed")
		} else {
			log.Debug("activity completed")
		}
		return result, err
	}
}

// RecoveryInterceptor превращает панику в действии в ошибку узла
func RecoveryInterceptor() Interceptor {
	return func(ctx *Context, a Activity, next Handler) (result any, err error) {
		defer func() {
			if r := recover(); r != nil {
				ctx.Logger().WithField("stack", string(debug.Stack())).Error("activity panicked")
				err = core.NewError(core.ErrActivityFailed, fmt.Sprintf("panic in %s: %v", a.Selector(), r))
			}
		}()
		return next(ctx)
	}
}

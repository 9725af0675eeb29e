// Package messagebus предоставляет адаптеры брокеров сообщений (in-memory, NATS,
// Kafka, Redis Streams), триггер запуска рабочих процессов по сообщениям
// и пересылку событий запусков в брокер.
package messagebus

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/akriventsev/activities/framework/events"
	"github.com/akriventsev/activities/framework/observability"
)

// Message сообщение брокера
type Message struct {
	Subject string
	Data    []byte
	Headers map[string]string
}

// Header возвращает значение заголовка
func (m *Message) Header(key string) string {
	if m.Headers == nil {
		return ""
	}
	return m.Headers[key]
}

// MessageHandler обработчик сообщений
type MessageHandler func(ctx context.Context, msg *Message) error

// Publisher публикатор сообщений
type Publisher interface {
	// Publish публикует сообщение в subject
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// Subscriber подписчик на сообщения
type Subscriber interface {
	// Subscribe подписывается на subject и вызывает handler при получении сообщения
	Subscribe(ctx context.Context, subject string, handler MessageHandler) error
	// Unsubscribe отписывается от subject
	Unsubscribe(subject string) error
}

// MessageBus адаптер брокера с жизненным циклом
type MessageBus interface {
	Publisher
	Subscriber

	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	HealthCheck(ctx context.Context) error
}

// Заголовки сообщений
const (
	HeaderReplyTo       = "reply_to"
	HeaderCorrelationID = "correlation_id"
	HeaderWorkflow      = "workflow"
	HeaderRunID         = "run_id"
)

// InjectTraceHeaders добавляет в заголовки сообщения correlation ID и контекст
// трассировки из ctx. Уже заданный correlation ID не перезаписывается.
func InjectTraceHeaders(ctx context.Context, headers map[string]string) {
	carrier := http.Header{}
	observability.PropagateCorrelationID(ctx, carrier)
	for key := range carrier {
		value := carrier.Get(key)
		if key == http.CanonicalHeaderKey(observability.CorrelationIDHeader) {
			if _, ok := headers[HeaderCorrelationID]; !ok {
				headers[HeaderCorrelationID] = value
			}
			continue
		}
		headers[strings.ToLower(key)] = value
	}
}

// ExtractTraceHeaders восстанавливает из заголовков сообщения correlation ID
// и контекст трассировки
func ExtractTraceHeaders(ctx context.Context, headers map[string]string) context.Context {
	if len(headers) == 0 {
		return ctx
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(headers))
	if id := headers[HeaderCorrelationID]; id != "" {
		ctx = observability.InjectCorrelationID(ctx, id)
	}
	return ctx
}

// deliverWithRetry вызывает обработчик до успеха или исчерпания попыток
func deliverWithRetry(ctx context.Context, handler MessageHandler, msg *Message, cfg events.RetryConfig) error {
	if cfg.MaxAttempts <= 1 {
		return handler(ctx, msg)
	}

	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * cfg.BackoffMultiplier)
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
		if lastErr = handler(ctx, msg); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

var errNotRunning = fmt.Errorf("message bus is not running")

// MatchSubject проверяет соответствие subject паттерну с NATS-style wildcards:
// * (один токен) и > (все оставшиеся токены)
func MatchSubject(subject, pattern string) bool {
	subjectParts := strings.Split(subject, ".")
	patternParts := strings.Split(pattern, ".")

	for i, part := range patternParts {
		if part == ">" {
			return i < len(subjectParts)
		}
		if i >= len(subjectParts) {
			return false
		}
		if part != "*" && part != subjectParts[i] {
			return false
		}
	}
	return len(patternParts) == len(subjectParts)
}

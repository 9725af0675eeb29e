// Package events предоставляет реализацию EventBus.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// EventMiddleware middleware для событий
type EventMiddleware func(ctx context.Context, event Event, next func(ctx context.Context, event Event) error) error

// RetryConfig конфигурация повторной доставки событий обработчику
type RetryConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig возвращает конфигурацию retry по умолчанию
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

type subscription struct {
	id      uint64
	handler EventHandler
}

// InMemoryEventBus синхронная шина событий в памяти
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[string][]subscription
	nextID      uint64
	middleware  []EventMiddleware
	retryConfig *RetryConfig

	wg         sync.WaitGroup
	shutdownMu sync.Mutex
	stopped    bool
}

// NewInMemoryEventBus создает новую шину событий
func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		handlers: make(map[string][]subscription),
	}
}

// WithMiddleware добавляет middleware к шине
func (b *InMemoryEventBus) WithMiddleware(middleware EventMiddleware) *InMemoryEventBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, middleware)
	return b
}

// WithRetry настраивает повторную доставку
func (b *InMemoryEventBus) WithRetry(config RetryConfig) *InMemoryEventBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryConfig = &config
	return b
}

// Subscribe подписывается на тип события. AllEvents получает события всех типов.
func (b *InMemoryEventBus) Subscribe(eventType string, handler EventHandler) (func(), error) {
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: id, handler: handler})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(eventType, id) })
	}, nil
}

func (b *InMemoryEventBus) unsubscribe(eventType string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// HandlerCount возвращает число подписок на тип события
func (b *InMemoryEventBus) HandlerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

// Publish доставляет событие всем подписчикам по порядку подписки.
// Ошибки обработчиков собираются и возвращаются вместе.
func (b *InMemoryEventBus) Publish(ctx context.Context, event Event) error {
	b.shutdownMu.Lock()
	if b.stopped {
		b.shutdownMu.Unlock()
		return fmt.Errorf("event bus is stopped")
	}
	b.wg.Add(1)
	b.shutdownMu.Unlock()
	defer b.wg.Done()

	b.mu.RLock()
	middleware := append([]EventMiddleware(nil), b.middleware...)
	b.mu.RUnlock()

	next := b.deliver
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		prevNext := next
		next = func(ctx context.Context, event Event) error {
			return mw(ctx, event, prevNext)
		}
	}
	return next(ctx, event)
}

func (b *InMemoryEventBus) deliver(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.handlers[event.EventType()])+len(b.handlers[AllEvents]))
	subs = append(subs, b.handlers[event.EventType()]...)
	subs = append(subs, b.handlers[AllEvents]...)
	retry := b.retryConfig
	b.mu.RUnlock()

	var result *multierror.Error
	for _, s := range subs {
		if err := handleWithRetry(ctx, s.handler, event, retry); err != nil {
			result = multierror.Append(result, fmt.Errorf("handler for %s failed: %w", event.EventType(), err))
		}
	}
	return result.ErrorOrNil()
}

func handleWithRetry(ctx context.Context, handler EventHandler, event Event, cfg *RetryConfig) error {
	if cfg == nil || cfg.MaxAttempts <= 1 {
		return handler.Handle(ctx, event)
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
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
		if lastErr = handler.Handle(ctx, event); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// Shutdown запрещает новые публикации и ждет завершения активных
func (b *InMemoryEventBus) Shutdown(ctx context.Context) error {
	b.shutdownMu.Lock()
	if b.stopped {
		b.shutdownMu.Unlock()
		return nil
	}
	b.stopped = true
	b.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

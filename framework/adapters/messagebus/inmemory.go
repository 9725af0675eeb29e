package messagebus

import (
	"context"
	"sync"
)

// InMemoryConfig конфигурация для InMemory адаптера
type InMemoryConfig struct {
	// Async доставляет сообщения подписчикам в отдельных горутинах
	Async bool `yaml:"async"`
}

// DefaultInMemoryConfig возвращает конфигурацию по умолчанию: синхронная доставка
func DefaultInMemoryConfig() InMemoryConfig {
	return InMemoryConfig{Async: false}
}

// InMemoryAdapter реализация MessageBus в памяти
type InMemoryAdapter struct {
	config      InMemoryConfig
	subscribers map[string][]MessageHandler
	mu          sync.RWMutex
	running     bool
	wg          sync.WaitGroup
}

// NewInMemoryAdapter создает новый InMemory адаптер
func NewInMemoryAdapter(config InMemoryConfig) *InMemoryAdapter {
	return &InMemoryAdapter{
		config:      config,
		subscribers: make(map[string][]MessageHandler),
	}
}

// Name возвращает имя компонента
func (i *InMemoryAdapter) Name() string {
	return "inmemory-bus"
}

// Start запускает адаптер
func (i *InMemoryAdapter) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.running = true
	return nil
}

// Stop останавливает адаптер и ждет асинхронных обработчиков
func (i *InMemoryAdapter) Stop(ctx context.Context) error {
	i.mu.Lock()
	i.running = false
	i.mu.Unlock()

	done := make(chan struct{})
	go func() {
		i.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли адаптер
func (i *InMemoryAdapter) IsRunning() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.running
}

// HealthCheck проверяет состояние адаптера
func (i *InMemoryAdapter) HealthCheck(ctx context.Context) error {
	if !i.IsRunning() {
		return errNotRunning
	}
	return nil
}

// Publish доставляет сообщение всем подписчикам, чей паттерн совпадает с subject
func (i *InMemoryAdapter) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	i.mu.RLock()
	if !i.running {
		i.mu.RUnlock()
		return errNotRunning
	}
	var handlers []MessageHandler
	for pattern, h := range i.subscribers {
		if MatchSubject(subject, pattern) {
			handlers = append(handlers, h...)
		}
	}
	i.mu.RUnlock()

	msg := &Message{Subject: subject, Data: data, Headers: headers}
	for _, handler := range handlers {
		if !i.config.Async {
			if err := handler(ctx, msg); err != nil {
				return err
			}
			continue
		}
		i.wg.Add(1)
		go func(h MessageHandler) {
			defer i.wg.Done()
			_ = h(context.WithoutCancel(ctx), msg)
		}(handler)
	}
	return nil
}

// Subscribe подписывается на subject или паттерн
func (i *InMemoryAdapter) Subscribe(ctx context.Context, subject string, handler MessageHandler) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.subscribers[subject] = append(i.subscribers[subject], handler)
	return nil
}

// Unsubscribe отписывает всех обработчиков subject
func (i *InMemoryAdapter) Unsubscribe(subject string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.subscribers, subject)
	return nil
}

// SubscriberCount возвращает количество подписчиков паттерна
func (i *InMemoryAdapter) SubscriberCount(subject string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.subscribers[subject])
}

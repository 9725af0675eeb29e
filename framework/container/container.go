// Package container хранит именованные сервисы приложения и управляет
// порядком запуска и остановки компонентов.
package container

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/akriventsev/activities/framework/core"
)

// Disposable сервис, освобождающий ресурсы при остановке контейнера
type Disposable interface {
	Dispose(ctx context.Context) error
}

// Container контейнер сервисов. Реализует activity.ServiceLocator,
// поэтому сервисы доступны активности invoke по имени.
type Container struct {
	services   map[string]interface{}
	order      []string
	components *Lifecycle
	mu         sync.RWMutex
}

// NewContainer создает пустой контейнер
func NewContainer() *Container {
	return &Container{
		services:   make(map[string]interface{}),
		components: NewLifecycle(),
	}
}

// Get получает сервис по ключу с приведением к типу T
func Get[T any](c *Container, key string) (T, error) {
	var zero T
	dep, err := c.Lookup(key)
	if err != nil {
		return zero, err
	}
	typed, ok := dep.(T)
	if !ok {
		return zero, core.Errorf(core.ErrDependencyNotFound, "dependency %s has type %T", key, dep)
	}
	return typed, nil
}

// Set регистрирует сервис под ключом. Повторная регистрация запрещена.
func Set[T any](c *Container, key string, value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.services[key]; exists {
		return core.Errorf(core.ErrAlreadyExists, "dependency %s already registered", key)
	}
	c.services[key] = value
	c.order = append(c.order, key)
	return nil
}

// MustSet как Set, но паникует при ошибке
func MustSet[T any](c *Container, key string, value T) {
	if err := Set(c, key, value); err != nil {
		panic(err)
	}
}

// Lookup возвращает сервис по имени
func (c *Container) Lookup(name string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dep, exists := c.services[name]
	if !exists {
		return nil, core.Errorf(core.ErrDependencyNotFound, "dependency %s not found", name)
	}
	return dep, nil
}

// Keys возвращает отсортированные имена сервисов
func (c *Container) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.services))
	for k := range c.services {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Components возвращает управляемые компоненты контейнера
func (c *Container) Components() *Lifecycle {
	return c.components
}

// Shutdown останавливает компоненты и освобождает Disposable сервисы
// в порядке, обратном регистрации
func (c *Container) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if err := c.components.StopAll(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	c.mu.RLock()
	order := append([]string(nil), c.order...)
	services := make(map[string]interface{}, len(c.services))
	for k, v := range c.services {
		services[k] = v
	}
	c.mu.RUnlock()

	for i := len(order) - 1; i >= 0; i-- {
		if disposable, ok := services[order[i]].(Disposable); ok {
			if err := disposable.Dispose(ctx); err != nil {
				result = multierror.Append(result, fmt.Errorf("failed to dispose %s: %w", order[i], err))
			}
		}
	}
	return result.ErrorOrNil()
}

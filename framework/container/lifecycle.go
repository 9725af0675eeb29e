package container

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/akriventsev/activities/framework/core"
)

// Component компонент с жизненным циклом
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Priority приоритет запуска (меньше = раньше)
type Priority int

// Стандартные приоритеты
const (
	PriorityInfrastructure Priority = 0   // хранилища, брокеры, трассировка
	PriorityEngine         Priority = 100 // исполнитель и планировщик
	PriorityTransport      Priority = 200 // входящие API
)

type unit struct {
	component    Component
	priority     Priority
	dependencies []string
}

// Lifecycle запускает компоненты в порядке зависимостей и приоритетов
// и останавливает в обратном порядке
type Lifecycle struct {
	units   map[string]*unit
	started []Component
	mu      sync.Mutex
}

// NewLifecycle создает пустой набор компонентов
func NewLifecycle() *Lifecycle {
	return &Lifecycle{units: make(map[string]*unit)}
}

// Register добавляет компонент. dependencies содержит имена компонентов,
// которые должны быть запущены раньше.
func (l *Lifecycle) Register(component Component, priority Priority, dependencies ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	name := component.Name()
	if _, exists := l.units[name]; exists {
		return core.Errorf(core.ErrAlreadyExists, "component %s already registered", name)
	}
	l.units[name] = &unit{component: component, priority: priority, dependencies: dependencies}
	return nil
}

// Order возвращает порядок запуска компонентов
func (l *Lifecycle) Order() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	units, err := l.sorted()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.component.Name()
	}
	return names, nil
}

// sorted топологическая сортировка (алгоритм Кана), среди готовых
// компонентов первым идет компонент с меньшим приоритетом
func (l *Lifecycle) sorted() ([]*unit, error) {
	inDegree := make(map[string]int, len(l.units))
	dependents := make(map[string][]string, len(l.units))
	for name, u := range l.units {
		inDegree[name] += 0
		for _, dep := range u.dependencies {
			if _, exists := l.units[dep]; !exists {
				return nil, core.Errorf(core.ErrDependencyNotFound, "component %s depends on unknown %s", name, dep)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	var queue []*unit
	for name, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, l.units[name])
		}
	}

	result := make([]*unit, 0, len(l.units))
	for len(queue) > 0 {
		sort.Slice(queue, func(i, j int) bool {
			if queue[i].priority != queue[j].priority {
				return queue[i].priority < queue[j].priority
			}
			return queue[i].component.Name() < queue[j].component.Name()
		})
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, dependent := range dependents[current.component.Name()] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, l.units[dependent])
			}
		}
	}

	if len(result) < len(l.units) {
		var cyclic []string
		for name, degree := range inDegree {
			if degree > 0 {
				cyclic = append(cyclic, name)
			}
		}
		sort.Strings(cyclic)
		return nil, core.Errorf(core.ErrInvalidConfig, "circular dependency between components: %s", strings.Join(cyclic, ", "))
	}
	return result, nil
}

// StartAll запускает компоненты. При ошибке уже запущенные компоненты останавливаются.
func (l *Lifecycle) StartAll(ctx context.Context) error {
	l.mu.Lock()
	units, err := l.sorted()
	l.mu.Unlock()
	if err != nil {
		return err
	}

	for _, u := range units {
		if err := u.component.Start(ctx); err != nil {
			startErr := fmt.Errorf("failed to start %s: %w", u.component.Name(), err)
			if stopErr := l.StopAll(ctx); stopErr != nil {
				return multierror.Append(startErr, stopErr)
			}
			return startErr
		}
		l.mu.Lock()
		l.started = append(l.started, u.component)
		l.mu.Unlock()
	}
	return nil
}

// StopAll останавливает запущенные компоненты в обратном порядке
func (l *Lifecycle) StopAll(ctx context.Context) error {
	l.mu.Lock()
	started := l.started
	l.started = nil
	l.mu.Unlock()

	var result *multierror.Error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to stop %s: %w", started[i].Name(), err))
		}
	}
	return result.ErrorOrNil()
}

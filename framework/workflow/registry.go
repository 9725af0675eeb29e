package workflow

import (
	"fmt"
	"sort"
	"sync"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/core"
)

// Workflow определение вместе с разрешенным деревом активностей
type Workflow struct {
	Definition *Definition
	Activity   activity.Activity
}

// Name возвращает имя рабочего процесса
func (w *Workflow) Name() string {
	return w.Definition.Name
}

// Registry реестр рабочих процессов. Шаблоны разрешаются при регистрации,
// поэтому ошибки шаблона обнаруживаются до первого запуска.
type Registry struct {
	mu        sync.RWMutex
	resolver  *activity.Resolver
	workflows map[string]*Workflow
}

// NewRegistry создает реестр поверх резолвера
func NewRegistry(resolver *activity.Resolver) *Registry {
	return &Registry{
		resolver:  resolver,
		workflows: make(map[string]*Workflow),
	}
}

// Register разрешает шаблон и регистрирует рабочий процесс
func (r *Registry) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return core.Wrap(err, core.ErrInvalidTemplate, "invalid workflow definition")
	}
	root, err := r.resolver.Resolve(def.Activity)
	if err != nil {
		return fmt.Errorf("workflow %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workflows[def.Name]; exists {
		return core.Errorf(core.ErrAlreadyExists, "workflow %s already registered", def.Name)
	}
	r.workflows[def.Name] = &Workflow{Definition: def, Activity: root}
	return nil
}

// MustRegister регистрирует рабочий процесс и паникует при ошибке
func (r *Registry) MustRegister(def *Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Replace регистрирует рабочий процесс, заменяя существующий
func (r *Registry) Replace(def *Definition) error {
	r.mu.Lock()
	delete(r.workflows, def.Name)
	r.mu.Unlock()
	return r.Register(def)
}

// LoadDir регистрирует все определения из директории
func (r *Registry) LoadDir(dir string) error {
	defs, err := LoadDir(dir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Get возвращает рабочий процесс по имени
func (r *Registry) Get(name string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[name]
	if !ok {
		return nil, core.Errorf(core.ErrWorkflowNotFound, "workflow %s not found", name)
	}
	return wf, nil
}

// List возвращает определения, отсортированные по имени
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.workflows))
	for _, wf := range r.workflows {
		out = append(out, wf.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

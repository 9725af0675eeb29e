package activity

import (
	"sort"
	"sync"

	"github.com/akriventsev/activities/framework/core"
)

// Factory создает экземпляр активности из связанных свойств.
// Для ссылок по селектору без свойств props равен nil.
type Factory func(props Properties, r *Resolver) (Activity, error)

// Registry реестр фабрик активностей по селекторам
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry создает реестр со встроенными активностями
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	registerBuiltins(r)
	return r
}

// NewEmptyRegistry создает пустой реестр
func NewEmptyRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register регистрирует фабрику под селектором
func (r *Registry) Register(selector string, factory Factory) error {
	if selector == "" {
		return core.NewError(core.ErrInvalidConfig, "activity selector cannot be empty")
	}
	if factory == nil {
		return core.Errorf(core.ErrInvalidConfig, "activity %q: factory cannot be nil", selector)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[selector]; exists {
		return core.Errorf(core.ErrAlreadyExists, "activity %q already registered", selector)
	}
	r.factories[selector] = factory
	return nil
}

// MustRegister регистрирует фабрику и паникует при ошибке
func (r *Registry) MustRegister(selector string, factory Factory) {
	if err := r.Register(selector, factory); err != nil {
		panic(err)
	}
}

// RegisterAction регистрирует пользовательское действие как листовую активность.
// newAction вызывается на каждое вхождение в шаблон, свойства связываются с результатом через Bind.
func (r *Registry) RegisterAction(selector string, newAction func() Action) error {
	return r.Register(selector, ActionFactory(selector, newAction))
}

// RegisterFunc регистрирует функцию как листовую активность без свойств
func (r *Registry) RegisterFunc(selector string, fn Func) error {
	return r.Register(selector, func(props Properties, _ *Resolver) (Activity, error) {
		if len(props) > 0 {
			return nil, core.Errorf(core.ErrInvalidTemplate, "activity %q accepts no properties", selector)
		}
		return NewLeaf(selector, fn), nil
	})
}

// Lookup возвращает фабрику по селектору
func (r *Registry) Lookup(selector string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[selector]
	return f, ok
}

// Selectors возвращает отсортированный список зарегистрированных селекторов
func (r *Registry) Selectors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for s := range r.factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ActionFactory оборачивает конструктор действия в фабрику листовой активности
func ActionFactory(selector string, newAction func() Action) Factory {
	return func(props Properties, _ *Resolver) (Activity, error) {
		action := newAction()
		if len(props) > 0 {
			if err := Bind(props, action); err != nil {
				return nil, core.Wrap(err, core.ErrInvalidTemplate, "activity "+selector)
			}
		}
		return NewLeaf(selector, action), nil
	}
}

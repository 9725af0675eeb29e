package activity

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/akriventsev/activities/framework/core"
)

// Resolver превращает узлы шаблона в исполняемые активности
type Resolver struct {
	registry *Registry
}

// NewResolver создает резолвер поверх реестра
func NewResolver(registry *Registry) *Resolver {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Resolver{registry: registry}
}

// Registry возвращает реестр резолвера
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Resolve резолвит узел шаблона. Списки оборачиваются в неявный sequence.
func (r *Resolver) Resolve(raw any) (Activity, error) {
	tpl, err := ParseTemplate(raw)
	if err != nil {
		return nil, err
	}
	return r.ResolveTemplate(tpl)
}

// ResolveTemplate резолвит разобранный узел шаблона
func (r *Resolver) ResolveTemplate(tpl Template) (Activity, error) {
	switch tpl.kind {
	case TemplateActivity:
		return tpl.activity, nil
	case TemplateFunc:
		return NewLeaf("", tpl.action), nil
	case TemplateSelector:
		return r.build(tpl.selector, nil, nil)
	case TemplateFactory:
		return r.build("", tpl.factory, nil)
	case TemplateObject:
		return r.build(tpl.selector, tpl.factory, tpl.props)
	case TemplateList:
		children, err := r.resolveItems(tpl.list)
		if err != nil {
			return nil, err
		}
		return newSequence(string(KindSequence), children), nil
	default:
		return nil, core.NewError(core.ErrInvalidTemplate, "empty activity template")
	}
}

// ResolveBody резолвит необязательное тело: nil дает nil без ошибки
func (r *Resolver) ResolveBody(raw any) (Activity, error) {
	if raw == nil {
		return nil, nil
	}
	return r.Resolve(raw)
}

// ResolveList резолвит тело как список отдельных активностей без обертки в sequence
func (r *Resolver) ResolveList(raw any) ([]Activity, error) {
	if raw == nil {
		return nil, nil
	}
	tpl, err := ParseTemplate(raw)
	if err != nil {
		return nil, err
	}
	if tpl.kind != TemplateList {
		a, err := r.ResolveTemplate(tpl)
		if err != nil {
			return nil, err
		}
		return []Activity{a}, nil
	}
	return r.resolveItems(tpl.list)
}

func (r *Resolver) resolveItems(items []Template) ([]Activity, error) {
	out := make([]Activity, 0, len(items))
	for i, item := range items {
		a, err := r.ResolveTemplate(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (r *Resolver) build(selector string, factory Factory, props Properties) (Activity, error) {
	if factory == nil {
		f, ok := r.registry.Lookup(selector)
		if !ok {
			return nil, core.Errorf(core.ErrUnknownActivity, "unknown activity %q", selector)
		}
		factory = f
	}

	a, err := factory(props, r)
	if err != nil {
		if selector == "" {
			return nil, err
		}
		return nil, fmt.Errorf("activity %q: %w", selector, err)
	}
	if a == nil {
		return nil, core.Errorf(core.ErrInvalidTemplate, "activity %q: factory returned nil", selector)
	}
	return a, nil
}

// Bind связывает свойства встроенного объекта со структурой (теги mapstructure).
// Неизвестные свойства считаются ошибкой шаблона.
func Bind(props Properties, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]any(props)); err != nil {
		return core.Wrap(err, core.ErrInvalidTemplate, "bind activity properties")
	}
	return nil
}

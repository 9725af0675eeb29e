package activity

import (
	"fmt"

	"github.com/akriventsev/activities/framework/core"
)

// TemplateKind вариант узла шаблона
type TemplateKind int

const (
	TemplateSelector TemplateKind = iota + 1
	TemplateFactory
	TemplateObject
	TemplateFunc
	TemplateList
	TemplateActivity
)

// String возвращает имя варианта
func (k TemplateKind) String() string {
	switch k {
	case TemplateSelector:
		return "selector"
	case TemplateFactory:
		return "factory"
	case TemplateObject:
		return "object"
	case TemplateFunc:
		return "func"
	case TemplateList:
		return "list"
	case TemplateActivity:
		return "activity"
	default:
		return "unknown"
	}
}

// ActivityKey ключ встроенного объекта, задающий селектор или фабрику
const ActivityKey = "activity"

// Template неизменяемое описание узла до резолвинга
type Template struct {
	kind     TemplateKind
	selector string
	factory  Factory
	props    Properties
	action   Action
	list     []Template
	activity Activity
}

// Kind возвращает вариант шаблона
func (t Template) Kind() TemplateKind {
	return t.kind
}

// SelectorName возвращает селектор для TemplateSelector и TemplateObject
func (t Template) SelectorName() string {
	return t.selector
}

// Properties возвращает копию связываемых свойств встроенного объекта
func (t Template) Properties() Properties {
	return t.props.clone()
}

// Items возвращает элементы списка
func (t Template) Items() []Template {
	return append([]Template(nil), t.list...)
}

// ParseTemplate классифицирует декодированное значение (JSON/YAML или Go-значение) как узел шаблона
func ParseTemplate(raw any) (Template, error) {
	switch v := raw.(type) {
	case Template:
		return v, nil
	case string:
		if v == "" {
			return Template{}, core.NewError(core.ErrInvalidTemplate, "empty activity selector")
		}
		return Template{kind: TemplateSelector, selector: v}, nil
	case Factory:
		return Template{kind: TemplateFactory, factory: v}, nil
	case func(props Properties, r *Resolver) (Activity, error):
		return Template{kind: TemplateFactory, factory: v}, nil
	case Activity:
		return Template{kind: TemplateActivity, activity: v}, nil
	case Func:
		return Template{kind: TemplateFunc, action: v}, nil
	case func(ctx *Context) (any, error):
		return Template{kind: TemplateFunc, action: Func(v)}, nil
	case Action:
		return Template{kind: TemplateFunc, action: v}, nil
	case map[string]any:
		return parseObject(v)
	case Properties:
		return parseObject(v)
	case map[any]any:
		obj := make(map[string]any, len(v))
		for k, val := range v {
			key, ok := k.(string)
			if !ok {
				return Template{}, core.Errorf(core.ErrInvalidTemplate, "non-string key %v in activity object", k)
			}
			obj[key] = val
		}
		return parseObject(obj)
	case []any:
		items := make([]Template, 0, len(v))
		for i, item := range v {
			t, err := ParseTemplate(item)
			if err != nil {
				return Template{}, fmt.Errorf("item %d: %w", i, err)
			}
			items = append(items, t)
		}
		return Template{kind: TemplateList, list: items}, nil
	case []Template:
		return Template{kind: TemplateList, list: append([]Template(nil), v...)}, nil
	case nil:
		return Template{}, core.NewError(core.ErrInvalidTemplate, "nil activity template")
	default:
		return Template{}, core.Errorf(core.ErrInvalidTemplate, "unsupported activity template of type %T", raw)
	}
}

func parseObject(obj map[string]any) (Template, error) {
	ref, ok := obj[ActivityKey]
	if !ok {
		return Template{}, core.Errorf(core.ErrInvalidTemplate, "activity object without %q key", ActivityKey)
	}

	props := make(Properties, len(obj))
	for k, v := range obj {
		if k != ActivityKey {
			props[k] = v
		}
	}

	switch r := ref.(type) {
	case string:
		if r == "" {
			return Template{}, core.NewError(core.ErrInvalidTemplate, "empty activity selector")
		}
		return Template{kind: TemplateObject, selector: r, props: props}, nil
	case Factory:
		return Template{kind: TemplateObject, factory: r, props: props}, nil
	case func(props Properties, r *Resolver) (Activity, error):
		return Template{kind: TemplateObject, factory: r, props: props}, nil
	default:
		return Template{}, core.Errorf(core.ErrInvalidTemplate, "activity reference of type %T", ref)
	}
}

// Properties связываемые свойства встроенного объекта активности
type Properties map[string]any

// Get возвращает свойство по имени
func (p Properties) Get(key string) (any, bool) {
	v, ok := p[key]
	return v, ok
}

func (p Properties) clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

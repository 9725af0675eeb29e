package activity

import (
	"reflect"

	"github.com/akriventsev/activities/framework/core"
)

// Each выполняет тело для каждого непустого элемента коллекции
type Each struct {
	composite
	items    any
	body     Activity
	parallel bool
	limit    int
}

// NewEach создает узел each
func NewEach(items any, body Activity, parallel bool) *Each {
	return &Each{composite: composite{selector: string(KindEach)}, items: items, body: body, parallel: parallel}
}

// WithLimit ограничивает число одновременно обрабатываемых элементов
func (e *Each) WithLimit(limit int) *Each {
	e.limit = limit
	return e
}

func (e *Each) Kind() Kind { return KindEach }

func (e *Each) execute(ctx *Context) (any, error) {
	raw, err := ctx.ResolveExpression(e.items)
	if err != nil {
		return nil, err
	}
	items, err := iterate(raw)
	if err != nil {
		return nil, err
	}

	if e.parallel {
		limit := e.limit
		if limit <= 0 {
			limit = ctx.run.executor.parallelLimit
		}
		return runBranches(ctx, e, len(items), limit, func(i int, branch *Context) (any, error) {
			branch.SetLocal(VarItem, items[i])
			branch.SetLocal(VarIndex, i)
			return branch.Run(e.body)
		})
	}

	results := make([]any, len(items))
	for i, item := range items {
		v, err := ctx.scoped(e, true, func(b *Context) (any, error) {
			b.SetLocal(VarItem, item)
			b.SetLocal(VarIndex, i)
			return b.Run(e.body)
		})
		if err != nil {
			return nil, err
		}
		results[i] = v
	}
	return results, nil
}

// iterate превращает срез или массив в список элементов без nil
func iterate(v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	if list, ok := v.([]any); ok {
		out := make([]any, 0, len(list))
		for _, item := range list {
			if !isNil(item) {
				out = append(out, item)
			}
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, core.Errorf(core.ErrInvalidExpression, "each: %T is not iterable", v)
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		item := rv.Index(i).Interface()
		if !isNil(item) {
			out = append(out, item)
		}
	}
	return out, nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}

type eachProps struct {
	Each     any  `mapstructure:"each"`
	Body     any  `mapstructure:"body"`
	Parallel bool `mapstructure:"parallel"`
	Limit    int  `mapstructure:"limit"`
}

func eachFactory(props Properties, r *Resolver) (Activity, error) {
	var p eachProps
	if err := Bind(props, &p); err != nil {
		return nil, err
	}
	body, err := r.ResolveBody(p.Body)
	if err != nil {
		return nil, err
	}
	return NewEach(p.Each, body, p.Parallel).WithLimit(p.Limit), nil
}

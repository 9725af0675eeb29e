package activity

import (
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
)

// Case ветвь switch
type Case struct {
	Value any
	Body  Activity
}

// Switch выбирает ветвь по структурному равенству дискриминанта и значения case
type Switch struct {
	composite
	discriminant any
	cases        []Case
	defaultBody  Activity
}

// NewSwitch создает узел switch
func NewSwitch(discriminant any, defaultBody Activity, cases ...Case) *Switch {
	return &Switch{
		composite:    composite{selector: string(KindSwitch)},
		discriminant: discriminant,
		cases:        cases,
		defaultBody:  defaultBody,
	}
}

func (s *Switch) Kind() Kind { return KindSwitch }

func (s *Switch) execute(ctx *Context) (any, error) {
	d, err := ctx.ResolveExpression(s.discriminant)
	if err != nil {
		return nil, err
	}

	body := s.defaultBody
	for _, c := range s.cases {
		v, err := ctx.ResolveExpression(c.Value)
		if err != nil {
			return nil, err
		}
		if Equal(d, v) {
			body = c.Body
			break
		}
	}

	return ctx.scoped(s, true, func(b *Context) (any, error) {
		return b.Run(body)
	})
}

// Equal сравнивает значения структурно; числа разных типов сравниваются как float64
func Equal(a, b any) bool {
	return cmp.Equal(normalize(a), normalize(b), cmp.Exporter(func(reflect.Type) bool { return true }))
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string:
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any(nil)
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = normalize(rv.Index(i).Interface())
		}
		return out
	default:
		return v
	}
}

type switchProps struct {
	Switch  any              `mapstructure:"switch"`
	Cases   []map[string]any `mapstructure:"cases"`
	Default any              `mapstructure:"default"`
}

type caseProps struct {
	Case any `mapstructure:"case"`
	Body any `mapstructure:"body"`
}

func switchFactory(props Properties, r *Resolver) (Activity, error) {
	var p switchProps
	if err := Bind(props, &p); err != nil {
		return nil, err
	}

	cases := make([]Case, 0, len(p.Cases))
	for i, raw := range p.Cases {
		var cp caseProps
		if err := Bind(raw, &cp); err != nil {
			return nil, fmt.Errorf("case %d: %w", i, err)
		}
		body, err := r.ResolveBody(cp.Body)
		if err != nil {
			return nil, fmt.Errorf("case %d: %w", i, err)
		}
		cases = append(cases, Case{Value: cp.Case, Body: body})
	}

	def, err := r.ResolveBody(p.Default)
	if err != nil {
		return nil, fmt.Errorf("default: %w", err)
	}
	return NewSwitch(p.Switch, def, cases...), nil
}

package activity

import (
	"context"
	"fmt"

	"github.com/akriventsev/activities/framework/core"
)

// Catch обработчик ошибок try. Error задает тип перехватываемой ошибки, nil перехватывает все.
type Catch struct {
	Error any
	Body  Activity
}

// TryCatch выполняет тело внутри границы ошибок; finally выполняется всегда
type TryCatch struct {
	composite
	body    Activity
	catches []Catch
	finally Activity
}

// NewTryCatch создает узел try
func NewTryCatch(body, finally Activity, catches ...Catch) *TryCatch {
	return &TryCatch{
		composite: composite{selector: string(KindTryCatch)},
		body:      body,
		catches:   catches,
		finally:   finally,
	}
}

func (t *TryCatch) Kind() Kind { return KindTryCatch }

func (t *TryCatch) execute(ctx *Context) (any, error) {
	result, err := ctx.scoped(t, true, func(b *Context) (any, error) {
		return b.Run(t.body)
	})

	// отмененный запуск не перехватывается
	if err != nil && ctx.ctx.Err() == nil {
		for _, c := range t.catches {
			if !MatchError(err, c.Error) {
				continue
			}
			caught := Cause(err)
			result, err = ctx.scoped(t, true, func(b *Context) (any, error) {
				b.SetLocal(VarError, caught)
				return b.Run(c.Body)
			})
			break
		}
	}

	if t.finally != nil {
		fctx := ctx
		if ctx.ctx.Err() != nil {
			fctx = ctx.WithContext(context.WithoutCancel(ctx.ctx))
		}
		if _, ferr := fctx.scoped(t, true, func(b *Context) (any, error) {
			return b.Run(t.finally)
		}); ferr != nil {
			return nil, ferr
		}
	}

	if err != nil {
		return nil, err
	}
	return result, nil
}

type tryProps struct {
	Body    any `mapstructure:"body"`
	Catch   any `mapstructure:"catch"`
	Finally any `mapstructure:"finally"`
}

type catchProps struct {
	Error any `mapstructure:"error"`
	Body  any `mapstructure:"body"`
}

func tryFactory(props Properties, r *Resolver) (Activity, error) {
	var p tryProps
	if err := Bind(props, &p); err != nil {
		return nil, err
	}

	body, err := r.ResolveBody(p.Body)
	if err != nil {
		return nil, fmt.Errorf("body: %w", err)
	}
	catches, err := resolveCatches(p.Catch, r)
	if err != nil {
		return nil, fmt.Errorf("catch: %w", err)
	}
	finally, err := r.ResolveBody(p.Finally)
	if err != nil {
		return nil, fmt.Errorf("finally: %w", err)
	}
	return NewTryCatch(body, finally, catches...), nil
}

// resolveCatches разбирает catch: объект {error, body}, список таких объектов
// или произвольное тело, перехватывающее все ошибки.
func resolveCatches(raw any, r *Resolver) ([]Catch, error) {
	if raw == nil {
		return nil, nil
	}

	var clauses []map[string]any
	switch v := raw.(type) {
	case map[string]any:
		if isCatchClause(v) {
			clauses = []map[string]any{v}
		}
	case []any:
		all := len(v) > 0
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok || !isCatchClause(m) {
				all = false
				break
			}
			clauses = append(clauses, m)
		}
		if !all {
			clauses = nil
		}
	}

	if clauses == nil {
		body, err := r.Resolve(raw)
		if err != nil {
			return nil, err
		}
		return []Catch{{Body: body}}, nil
	}

	out := make([]Catch, 0, len(clauses))
	for i, clause := range clauses {
		var cp catchProps
		if err := Bind(clause, &cp); err != nil {
			return nil, fmt.Errorf("clause %d: %w", i, err)
		}
		body, err := r.ResolveBody(cp.Body)
		if err != nil {
			return nil, fmt.Errorf("clause %d: %w", i, err)
		}
		if cp.Error != nil && !isErrorDeclaration(cp.Error) {
			return nil, core.Errorf(core.ErrInvalidTemplate, "clause %d: unsupported error declaration %T", i, cp.Error)
		}
		out = append(out, Catch{Error: cp.Error, Body: body})
	}
	return out, nil
}

func isCatchClause(m map[string]any) bool {
	if _, ok := m[ActivityKey]; ok {
		return false
	}
	_, hasBody := m["body"]
	_, hasError := m["error"]
	return hasBody || hasError
}

func isErrorDeclaration(v any) bool {
	switch v.(type) {
	case string, []any, []string, error, ErrorMatcher, func(error) bool:
		return true
	default:
		return false
	}
}

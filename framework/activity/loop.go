package activity

import "github.com/akriventsev/activities/framework/core"

// While повторяет тело, пока условие истинно. В режиме dowhile тело выполняется до первой проверки.
type While struct {
	composite
	condition     any
	body          Activity
	doWhile       bool
	maxIterations int
}

// NewWhile создает цикл while
func NewWhile(condition any, body Activity) *While {
	return &While{composite: composite{selector: string(KindWhile)}, condition: condition, body: body}
}

// NewDoWhile создает цикл dowhile
func NewDoWhile(condition any, body Activity) *While {
	return &While{composite: composite{selector: string(KindDoWhile)}, condition: condition, body: body, doWhile: true}
}

// WithMaxIterations ограничивает число итераций
func (w *While) WithMaxIterations(n int) *While {
	w.maxIterations = n
	return w
}

func (w *While) Kind() Kind {
	if w.doWhile {
		return KindDoWhile
	}
	return KindWhile
}

func (w *While) execute(ctx *Context) (any, error) {
	limit := w.maxIterations
	if limit <= 0 {
		limit = ctx.run.executor.maxIterations
	}

	var last any
	for i := 0; ; i++ {
		if !w.doWhile || i > 0 {
			ok, err := ctx.ResolveBool(w.condition)
			if err != nil {
				return nil, err
			}
			if !ok {
				return last, nil
			}
		}
		if limit > 0 && i >= limit {
			return nil, core.Errorf(core.ErrActivityFailed, "%s exceeded %d iterations", w.Kind(), limit)
		}
		if err := ctx.ctx.Err(); err != nil {
			return nil, core.Wrap(err, core.ErrRunCancelled, "run cancelled")
		}

		v, err := ctx.scoped(w, true, func(b *Context) (any, error) {
			b.SetLocal(VarIndex, i)
			return b.Run(w.body)
		})
		if err != nil {
			return nil, err
		}
		last = v
	}
}

type loopProps struct {
	Condition     any `mapstructure:"condition"`
	Body          any `mapstructure:"body"`
	MaxIterations int `mapstructure:"maxIterations"`
}

func loopFactory(doWhile bool) Factory {
	return func(props Properties, r *Resolver) (Activity, error) {
		var p loopProps
		if err := Bind(props, &p); err != nil {
			return nil, err
		}
		body, err := r.ResolveBody(p.Body)
		if err != nil {
			return nil, err
		}
		if doWhile {
			return NewDoWhile(p.Condition, body).WithMaxIterations(p.MaxIterations), nil
		}
		return NewWhile(p.Condition, body).WithMaxIterations(p.MaxIterations), nil
	}
}

package activity

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Sequence выполняет дочерние узлы по порядку и возвращает результат последнего
type Sequence struct {
	composite
	children []Activity
}

// NewSequence создает последовательность
func NewSequence(children ...Activity) *Sequence {
	return newSequence(string(KindSequence), children)
}

func newSequence(selector string, children []Activity) *Sequence {
	return &Sequence{composite: composite{selector: selector}, children: children}
}

func (s *Sequence) Kind() Kind { return KindSequence }

// Children возвращает дочерние узлы
func (s *Sequence) Children() []Activity {
	return append([]Activity(nil), s.children...)
}

func (s *Sequence) execute(ctx *Context) (any, error) {
	return ctx.scoped(s, false, func(body *Context) (any, error) {
		var last any
		for _, child := range s.children {
			v, err := body.Run(child)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	})
}

// Parallel выполняет дочерние узлы одновременно и возвращает результаты в порядке объявления
type Parallel struct {
	composite
	children []Activity
	limit    int
}

// NewParallel создает параллельный узел
func NewParallel(children ...Activity) *Parallel {
	return &Parallel{composite: composite{selector: string(KindParallel)}, children: children}
}

// WithLimit ограничивает число одновременно выполняемых ветвей
func (p *Parallel) WithLimit(limit int) *Parallel {
	p.limit = limit
	return p
}

func (p *Parallel) Kind() Kind { return KindParallel }

func (p *Parallel) execute(ctx *Context) (any, error) {
	limit := p.limit
	if limit <= 0 {
		limit = ctx.run.executor.parallelLimit
	}
	return runBranches(ctx, p, len(p.children), limit, func(i int, branch *Context) (any, error) {
		return branch.Run(p.children[i])
	})
}

// runBranches запускает n ветвей с собственными стеками областей и собирает результаты по индексу
func runBranches(ctx *Context, owner Activity, n, limit int, fn func(i int, branch *Context) (any, error)) ([]any, error) {
	results := make([]any, n)
	g, gctx := errgroup.WithContext(ctx.ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		branch := ctx.forkBranch(owner).WithContext(gctx)
		branch.path = fmt.Sprintf("%s[%d]", ctx.path, i)
		g.Go(func() error {
			v, err := fn(i, branch)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type bodyProps struct {
	Body  any `mapstructure:"body"`
	Limit int `mapstructure:"limit"`
}

func sequenceFactory(props Properties, r *Resolver) (Activity, error) {
	var p bodyProps
	if err := Bind(props, &p); err != nil {
		return nil, err
	}
	children, err := r.ResolveList(p.Body)
	if err != nil {
		return nil, err
	}
	return newSequence(string(KindSequence), children), nil
}

func parallelFactory(props Properties, r *Resolver) (Activity, error) {
	var p bodyProps
	if err := Bind(props, &p); err != nil {
		return nil, err
	}
	children, err := r.ResolveList(p.Body)
	if err != nil {
		return nil, err
	}
	return NewParallel(children...).WithLimit(p.Limit), nil
}

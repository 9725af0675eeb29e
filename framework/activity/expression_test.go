package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/activities/framework/core"
)

// evalIn выполняет fn внутри запуска, чтобы получить настоящий контекст
func evalIn(t *testing.T, exec *Executor, input any, fn Func) any {
	t.Helper()
	out, err := exec.Run(t.Context(), fn, input)
	require.NoError(t, err)
	return out
}

func TestResolveExpression_Literals(t *testing.T) {
	exec := NewExecutor(NewRegistry())
	out := evalIn(t, exec, nil, func(ctx *Context) (any, error) {
		var vals []any
		for _, expr := range []any{nil, 42, "plain", obj{"k": "v"}} {
			v, err := ctx.ResolveExpression(expr)
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil
	})
	assert.Equal(t, []any{nil, 42, "plain", obj{"k": "v"}}, out)
}

func TestResolveExpression_Callbacks(t *testing.T) {
	exec := NewExecutor(NewRegistry())
	out := evalIn(t, exec, "in", func(ctx *Context) (any, error) {
		a, _ := ctx.ResolveExpression(func(c *Context) any { return c.Input() })
		b, _ := ctx.ResolveExpression(func(c *Context) bool { return true })
		c, _ := ctx.ResolveExpression(ExpressionFunc(func(c *Context) (any, error) { return "expr", nil }))
		return []any{a, b, c}, nil
	})
	assert.Equal(t, []any{"in", true, "expr"}, out)
}

func TestResolveExpression_Promise(t *testing.T) {
	exec := NewExecutor(NewRegistry())
	out := evalIn(t, exec, nil, func(ctx *Context) (any, error) {
		return ctx.ResolveExpression(core.Future(func() (any, error) {
			time.Sleep(5 * time.Millisecond)
			return "resolved", nil
		}))
	})
	assert.Equal(t, "resolved", out)

	_, err := exec.Run(t.Context(), Func(func(ctx *Context) (any, error) {
		return ctx.ResolveExpression(core.Future(func() (any, error) { return nil, errors.New("rejected") }))
	}), nil)
	assert.ErrorContains(t, err, "rejected")
}

func TestResolveExpression_PromiseHonoursCancellation(t *testing.T) {
	exec := NewExecutor(NewRegistry())
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	never := make(chan core.Result[any])
	_, err := exec.Run(ctx, Func(func(c *Context) (any, error) {
		return c.ResolveExpression((<-chan core.Result[any])(never))
	}), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveExpression_Script(t *testing.T) {
	exec := NewExecutor(NewRegistry())
	input := obj{"n": 21, "user": obj{"name": "ann"}}

	out := evalIn(t, exec, input, func(ctx *Context) (any, error) {
		ctx.SetValue("factor", 2)
		return ctx.ResolveExpression("js: input.n * data.factor")
	})
	assert.EqualValues(t, 42, out)

	out = evalIn(t, exec, input, func(ctx *Context) (any, error) {
		return ctx.ResolveExpression(obj{ExprKey: "js: input.user.name.toUpperCase()"})
	})
	assert.Equal(t, "ANN", out)

	_, err := exec.Run(t.Context(), Func(func(ctx *Context) (any, error) {
		return ctx.ResolveExpression("js: this is not javascript")
	}), nil)
	assert.True(t, core.HasCode(err, core.ErrInvalidExpression))
}

func TestResolveExpression_ScriptTimeout(t *testing.T) {
	exec := NewExecutor(NewRegistry()).WithConfig(Config{ExpressionTimeout: 20 * time.Millisecond})

	_, err := exec.Run(t.Context(), Func(func(ctx *Context) (any, error) {
		return ctx.ResolveExpression("js: while (true) {}")
	}), nil)
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrInvalidExpression))
}

func TestResolveExpression_Path(t *testing.T) {
	exec := NewExecutor(NewRegistry())
	input := obj{"order": obj{"items": []any{obj{"sku": "a1"}, obj{"sku": "b2"}}}}

	out := evalIn(t, exec, input, func(ctx *Context) (any, error) {
		first, err := ctx.ResolveExpression("$.input.order.items.1.sku")
		if err != nil {
			return nil, err
		}
		count, err := ctx.ResolveExpression("$.input.order.items.#")
		if err != nil {
			return nil, err
		}
		missing, err := ctx.ResolveExpression("$.input.nothing")
		if err != nil {
			return nil, err
		}
		return []any{first, count, missing}, nil
	})
	assert.Equal(t, []any{"b2", float64(2), nil}, out)
}

func TestTruthy(t *testing.T) {
	var nilPtr *int
	truthy := []any{true, 1, -1, 0.5, "x", []int{1}, obj{"a": 1}, struct{}{}, uint(3)}
	falsy := []any{nil, false, 0, 0.0, "", []int{}, obj{}, nilPtr, uint(0)}

	for _, v := range truthy {
		assert.True(t, Truthy(v), "%#v", v)
	}
	for _, v := range falsy {
		assert.False(t, Truthy(v), "%#v", v)
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(1, 1.0))
	assert.True(t, Equal(int64(7), uint8(7)))
	assert.True(t, Equal([]int{1, 2}, []any{1.0, 2.0}))
	assert.True(t, Equal(obj{"a": []any{1}}, map[any]any{"a": []any{1.0}}))
	assert.False(t, Equal("1", 1))
	assert.False(t, Equal(obj{"a": 1}, obj{"a": 2}))
	assert.True(t, Equal(nil, nil))
}

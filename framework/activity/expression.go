package activity

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/tidwall/gjson"

	"github.com/akriventsev/activities/framework/core"
)

// Префиксы строковых выражений
const (
	ScriptPrefix = "js:"
	PathPrefix   = "$."
	ExprKey      = "$expr"
)

// Expression вычисляемое выражение
type Expression interface {
	Evaluate(ctx *Context) (any, error)
}

// ExpressionFunc функция-выражение
type ExpressionFunc func(ctx *Context) (any, error)

// Evaluate реализует Expression
func (f ExpressionFunc) Evaluate(ctx *Context) (any, error) {
	return f(ctx)
}

// ResolveExpression приводит литерал, функцию от контекста, промис или строковое
// выражение к значению.
func (c *Context) ResolveExpression(expr any) (any, error) {
	switch e := expr.(type) {
	case nil:
		return nil, nil
	case Expression:
		return e.Evaluate(c)
	case func(*Context) (any, error):
		return e(c)
	case func(*Context) any:
		return e(c), nil
	case func(*Context) bool:
		return e(c), nil
	case Func:
		return e(c)
	case <-chan core.Result[any]:
		return c.await(e)
	case chan core.Result[any]:
		return c.await(e)
	case <-chan any:
		select {
		case v := <-e:
			return v, nil
		case <-c.ctx.Done():
			return nil, c.ctx.Err()
		}
	case string:
		return c.evaluateString(e)
	case map[string]any:
		if inner, ok := e[ExprKey]; ok && len(e) == 1 {
			if s, ok := inner.(string); ok {
				return c.evaluateString(s)
			}
		}
		return e, nil
	default:
		return expr, nil
	}
}

// ResolveBool вычисляет выражение и приводит результат к логическому значению
func (c *Context) ResolveBool(expr any) (bool, error) {
	v, err := c.ResolveExpression(expr)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

func (c *Context) await(ch <-chan core.Result[any]) (any, error) {
	select {
	case r, ok := <-ch:
		if !ok {
			return nil, nil
		}
		return r.Value, r.Error
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

func (c *Context) evaluateString(s string) (any, error) {
	switch {
	case strings.HasPrefix(s, ScriptPrefix):
		return c.evaluateScript(strings.TrimSpace(strings.TrimPrefix(s, ScriptPrefix)))
	case s == "$" || strings.HasPrefix(s, PathPrefix):
		return c.evaluatePath(strings.TrimPrefix(strings.TrimPrefix(s, "$"), "."))
	default:
		return s, nil
	}
}

// expressionScope возвращает переменные, видимые выражениям
func (c *Context) expressionScope() map[string]any {
	data := c.Snapshot()
	scope := map[string]any{
		"input":  c.input,
		"data":   data,
		"result": c.Result(),
	}
	if v, ok := data[VarItem]; ok {
		scope[VarItem] = v
	}
	if v, ok := data[VarIndex]; ok {
		scope[VarIndex] = v
	}
	if v, ok := data[VarError]; ok {
		if err, isErr := v.(error); isErr {
			v = err.Error()
		}
		scope[VarError] = v
	}
	return scope
}

func (c *Context) evaluateScript(script string) (any, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	for k, v := range c.expressionScope() {
		if err := vm.Set(k, v); err != nil {
			return nil, core.Wrap(err, core.ErrInvalidExpression, "bind "+k)
		}
	}

	timeout := c.run.executor.expressionTimeout
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			vm.Interrupt("expression timeout")
		})
		defer timer.Stop()
	}

	val, err := vm.RunString(script)
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidExpression, "evaluate "+script)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return nil, nil
	}
	return val.Export(), nil
}

func (c *Context) evaluatePath(path string) (any, error) {
	doc, err := json.Marshal(c.expressionScope())
	if err != nil {
		return nil, core.Wrap(err, core.ErrInvalidExpression, "encode expression scope")
	}
	if path == "" {
		var out any
		if err := json.Unmarshal(doc, &out); err != nil {
			return nil, core.Wrap(err, core.ErrInvalidExpression, "decode expression scope")
		}
		return out, nil
	}
	res := gjson.GetBytes(doc, path)
	if !res.Exists() {
		return nil, nil
	}
	return res.Value(), nil
}

// Truthy приводит значение к логическому по правилам выражений:
// nil, false, ноль, пустая строка и пустые коллекции ложны.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint() != 0
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0
	case reflect.Slice, reflect.Map, reflect.Array, reflect.Chan:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface, reflect.Func:
		return !rv.IsNil()
	default:
		return true
	}
}

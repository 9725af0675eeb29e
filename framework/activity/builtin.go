package activity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/akriventsev/activities/framework/core"
)

func registerBuiltins(r *Registry) {
	r.MustRegister(string(KindSequence), sequenceFactory)
	r.MustRegister(string(KindParallel), parallelFactory)
	r.MustRegister(string(KindIf), conditionalFactory(KindIf))
	r.MustRegister(string(KindElseIf), conditionalFactory(KindElseIf))
	r.MustRegister(string(KindElse), conditionalFactory(KindElse))
	r.MustRegister(string(KindSwitch), switchFactory)
	r.MustRegister(string(KindTryCatch), tryFactory)
	r.MustRegister(string(KindEach), eachFactory)
	r.MustRegister(string(KindWhile), loopFactory(false))
	r.MustRegister(string(KindDoWhile), loopFactory(true))

	r.MustRegister("delay", ActionFactory("delay", func() Action { return &DelayAction{} }))
	r.MustRegister("throw", ActionFactory("throw", func() Action { return &ThrowAction{} }))
	r.MustRegister("assign", ActionFactory("assign", func() Action { return &AssignAction{} }))
	r.MustRegister("set", ActionFactory("set", func() Action { return &AssignAction{} }))
	r.MustRegister("log", ActionFactory("log", func() Action { return &LogAction{} }))
	r.MustRegister("invoke", ActionFactory("invoke", func() Action { return &InvokeAction{} }))
	r.MustRegister("eval", ActionFactory("eval", func() Action { return &EvalAction{} }))
}

// EvalAction возвращает значение выражения
type EvalAction struct {
	Value any `mapstructure:"value"`
}

// Execute реализует Action
func (a *EvalAction) Execute(ctx *Context) (any, error) {
	return ctx.ResolveExpression(a.Value)
}

// DelayAction приостанавливает выполнение на заданное время
type DelayAction struct {
	// Duration строка длительности ("150ms") или число миллисекунд
	Duration any `mapstructure:"duration"`
}

// Execute реализует Action
func (a *DelayAction) Execute(ctx *Context) (any, error) {
	raw, err := ctx.ResolveExpression(a.Duration)
	if err != nil {
		return nil, err
	}
	d, err := toDuration(raw)
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return ctx.Result(), nil
	case <-ctx.Context().Done():
		return nil, core.Wrap(ctx.Context().Err(), core.ErrRunCancelled, "delay interrupted")
	}
}

func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return d, nil
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, core.Wrap(err, core.ErrInvalidExpression, "delay duration")
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Millisecond, nil
	case int64:
		return time.Duration(d) * time.Millisecond, nil
	case float64:
		return time.Duration(d * float64(time.Millisecond)), nil
	default:
		return 0, core.Errorf(core.ErrInvalidExpression, "delay duration of type %T", v)
	}
}

// ThrowAction поднимает типизированную ошибку
type ThrowAction struct {
	Error   string `mapstructure:"error"`
	Message any    `mapstructure:"message"`
	Data    any    `mapstructure:"data"`
}

// Execute реализует Action
func (a *ThrowAction) Execute(ctx *Context) (any, error) {
	msg, err := ctx.ResolveExpression(a.Message)
	if err != nil {
		return nil, err
	}
	data, err := ctx.ResolveExpression(a.Data)
	if err != nil {
		return nil, err
	}
	typ := a.Error
	if typ == "" {
		typ = "Error"
	}
	thrown := &ThrownError{Type: typ, Data: data}
	if msg != nil {
		thrown.Message = fmt.Sprint(msg)
	}
	return nil, thrown
}

// Области записи assign
const (
	AssignScopeNearest = ""      // туда, где переменная определена, иначе в текущее тело
	AssignScopeLocal   = "local" // в текущее тело
	AssignScopeRun     = "run"   // в корневое тело запуска
)

// AssignAction вычисляет значение и записывает его в переменную.
// Без scope новая переменная появляется в текущем теле и не видна после
// выхода из него: чтобы результат вложенного тела пережил его, переменную
// объявляют снаружи заранее или указывают scope: run.
type AssignAction struct {
	Name  string `mapstructure:"name"`
	Value any    `mapstructure:"value"`
	Scope string `mapstructure:"scope"`
}

// Execute реализует Action
func (a *AssignAction) Execute(ctx *Context) (any, error) {
	if a.Name == "" {
		return nil, core.NewError(core.ErrInvalidTemplate, "assign requires a name")
	}
	set := ctx.SetValue
	switch a.Scope {
	case AssignScopeNearest:
	case AssignScopeLocal:
		set = ctx.SetLocal
	case AssignScopeRun:
		set = ctx.SetRun
	default:
		return nil, core.Errorf(core.ErrInvalidTemplate, "unknown assign scope %q", a.Scope)
	}
	v, err := ctx.ResolveExpression(a.Value)
	if err != nil {
		return nil, err
	}
	set(a.Name, v)
	return v, nil
}

// LogAction пишет сообщение в лог запуска
type LogAction struct {
	Message any    `mapstructure:"message"`
	Level   string `mapstructure:"level"`
}

// Execute реализует Action
func (a *LogAction) Execute(ctx *Context) (any, error) {
	msg, err := ctx.ResolveExpression(a.Message)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprint(msg)
	entry := ctx.Logger()

	level := logrus.InfoLevel
	if a.Level != "" {
		if level, err = logrus.ParseLevel(strings.ToLower(a.Level)); err != nil {
			return nil, core.Wrap(err, core.ErrInvalidTemplate, "log level")
		}
	}
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		entry.Debug(text)
	case logrus.WarnLevel:
		entry.Warn(text)
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		entry.Error(text)
	default:
		entry.Info(text)
	}
	return text, nil
}

// Invoker сервис, вызываемый активностью invoke
type Invoker interface {
	Invoke(ctx context.Context, method string, args any) (any, error)
}

// InvokerFunc функция-сервис
type InvokerFunc func(ctx context.Context, method string, args any) (any, error)

// Invoke реализует Invoker
func (f InvokerFunc) Invoke(ctx context.Context, method string, args any) (any, error) {
	return f(ctx, method, args)
}

// InvokeAction вызывает именованный сервис через ServiceLocator
type InvokeAction struct {
	Target string `mapstructure:"target"`
	Method string `mapstructure:"method"`
	Args   any    `mapstructure:"args"`
}

// Execute реализует Action
func (a *InvokeAction) Execute(ctx *Context) (any, error) {
	if a.Target == "" {
		return nil, core.NewError(core.ErrInvalidTemplate, "invoke requires a target")
	}
	svc, err := ctx.Services().Lookup(a.Target)
	if err != nil {
		return nil, err
	}
	args, err := ctx.ResolveExpression(a.Args)
	if err != nil {
		return nil, err
	}

	switch s := svc.(type) {
	case Invoker:
		return s.Invoke(ctx.Context(), a.Method, args)
	case func(context.Context, any) (any, error):
		return s(ctx.Context(), args)
	default:
		return nil, core.Errorf(core.ErrDependencyNotFound, "service %q of type %T is not invokable", a.Target, svc)
	}
}

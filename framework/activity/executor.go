package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/akriventsev/activities/framework/core"
)

// Handler обработчик вызова узла
type Handler func(ctx *Context) (any, error)

// Interceptor промежуточный слой вокруг каждого вызова узла
type Interceptor func(ctx *Context, a Activity, next Handler) (any, error)

// ServiceLocator источник именованных сервисов для активности invoke
type ServiceLocator interface {
	Lookup(name string) (any, error)
}

// Config настройки исполнителя
type Config struct {
	// ParallelLimit ограничивает число одновременно выполняемых ветвей (0 - без ограничения)
	ParallelLimit int `yaml:"parallel_limit" env:"ENGINE_PARALLEL_LIMIT"`
	// MaxIterations ограничивает циклы while/dowhile без собственного лимита (0 - без ограничения)
	MaxIterations int `yaml:"max_iterations" env:"ENGINE_MAX_ITERATIONS"`
	// ExpressionTimeout ограничивает время вычисления js-выражения
	ExpressionTimeout time.Duration `yaml:"expression_timeout" env:"ENGINE_EXPRESSION_TIMEOUT"`
	// StatusLimit ограничивает длину журнала выполнения запуска
	StatusLimit int `yaml:"status_limit" env:"ENGINE_STATUS_LIMIT"`
}

// DefaultConfig возвращает настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		ParallelLimit:     0,
		MaxIterations:     10000,
		ExpressionTimeout: time.Second,
		StatusLimit:       10000,
	}
}

// Executor исполнитель деревьев активностей
type Executor struct {
	resolver          *Resolver
	logger            logrus.FieldLogger
	interceptors      []Interceptor
	services          ServiceLocator
	parallelLimit     int
	maxIterations     int
	expressionTimeout time.Duration
	statusLimit       int
}

// NewExecutor создает исполнитель поверх реестра
func NewExecutor(registry *Registry) *Executor {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	e := &Executor{
		resolver: NewResolver(registry),
		logger:   logger,
		services: noServices{},
	}
	return e.WithConfig(DefaultConfig())
}

// WithConfig применяет настройки
func (e *Executor) WithConfig(cfg Config) *Executor {
	e.parallelLimit = cfg.ParallelLimit
	e.maxIterations = cfg.MaxIterations
	e.expressionTimeout = cfg.ExpressionTimeout
	e.statusLimit = cfg.StatusLimit
	return e
}

// WithLogger устанавливает логгер
func (e *Executor) WithLogger(logger logrus.FieldLogger) *Executor {
	e.logger = logger
	return e
}

// WithInterceptor добавляет промежуточный слой. Первый добавленный слой внешний.
func (e *Executor) WithInterceptor(interceptors ...Interceptor) *Executor {
	e.interceptors = append(e.interceptors, interceptors...)
	return e
}

// WithServices устанавливает локатор сервисов
func (e *Executor) WithServices(services ServiceLocator) *Executor {
	if services == nil {
		services = noServices{}
	}
	e.services = services
	return e
}

// Resolver возвращает резолвер исполнителя
func (e *Executor) Resolver() *Resolver {
	return e.resolver
}

// Run резолвит шаблон и выполняет его в новом запуске
func (e *Executor) Run(ctx context.Context, tpl any, input any) (any, error) {
	a, err := e.resolver.Resolve(tpl)
	if err != nil {
		return nil, err
	}
	return e.NewRun(uuid.NewString(), input).Execute(ctx, a)
}

// NewRun создает запуск с идентификатором и входными данными
func (e *Executor) NewRun(id string, input any) *Run {
	if id == "" {
		id = uuid.NewString()
	}
	return &Run{
		id:       id,
		executor: e,
		input:    input,
		state:    RunPending,
		vars:     newVariables(nil),
	}
}

// Run владелец состояния одного выполнения дерева
type Run struct {
	id       string
	executor *Executor
	input    any
	vars     *variables

	mu         sync.RWMutex
	state      RunState
	statuses   []ActivityStatus
	result     any
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// ID возвращает идентификатор запуска
func (r *Run) ID() string {
	return r.id
}

// State возвращает состояние запуска
func (r *Run) State() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Result возвращает результат и ошибку завершенного запуска
func (r *Run) Result() (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result, r.err
}

// Statuses возвращает копию журнала выполнения
func (r *Run) Statuses() []ActivityStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ActivityStatus(nil), r.statuses...)
}

// Variables возвращает копию переменных верхнего уровня
func (r *Run) Variables() map[string]any {
	r.vars.mu.RLock()
	defer r.vars.mu.RUnlock()
	out := make(map[string]any, len(r.vars.data))
	for k, v := range r.vars.data {
		out[k] = v
	}
	return out
}

// StartedAt возвращает время начала
func (r *Run) StartedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.startedAt
}

// FinishedAt возвращает время завершения
func (r *Run) FinishedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.finishedAt
}

// Execute выполняет активность в рамках запуска. Запуск выполняется один раз.
func (r *Run) Execute(ctx context.Context, a Activity) (any, error) {
	r.mu.Lock()
	if r.state != RunPending {
		r.mu.Unlock()
		return nil, core.Errorf(core.ErrInvalidConfig, "run %s already %s", r.id, r.state)
	}
	r.state = RunRunning
	r.startedAt = time.Now()
	r.mu.Unlock()

	root := &Context{
		ctx:    ctx,
		run:    r,
		input:  r.input,
		vars:   r.vars,
		scopes: NewScopeStack(a),
	}
	result, err := root.Run(a)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishedAt = time.Now()
	r.result, r.err = result, err
	switch {
	case err == nil:
		r.state = RunCompleted
	case ctx.Err() != nil || core.HasCode(err, core.ErrRunCancelled):
		r.state = RunCancelled
	default:
		r.state = RunFailed
	}
	return result, err
}

// Run выполняет узел в текущей области видимости и записывает результат
// как соседа в текущий кадр.
func (c *Context) Run(a Activity) (any, error) {
	if a == nil {
		return nil, nil
	}
	if err := c.ctx.Err(); err != nil {
		return nil, core.Wrap(err, core.ErrRunCancelled, "run cancelled")
	}

	frame := c.scopes.Current()
	inv := *c
	inv.path = fmt.Sprintf("%s/%d:%s", c.path, frame.Len(), a.Selector())

	idx := c.run.beginStatus(inv.path, a)

	var (
		cond  = ConditionUnset
		taken = true
	)
	handler := func(ctx *Context) (any, error) {
		out, err := a.execute(ctx)
		if br, ok := out.(branchResult); ok {
			cond, taken = br.state, br.taken
			return br.value, err
		}
		return out, err
	}
	ints := c.run.executor.interceptors
	for i := len(ints) - 1; i >= 0; i-- {
		next, interceptor := handler, ints[i]
		handler = func(ctx *Context) (any, error) {
			return interceptor(ctx, a, next)
		}
	}

	value, err := handler(&inv)
	if err != nil {
		var ae *ActivityError
		if !errors.As(err, &ae) && !core.HasCode(err, core.ErrRunCancelled) {
			err = &ActivityError{Path: inv.path, Selector: a.Selector(), Err: err}
		}
		c.run.endStatus(idx, ActivityFailed, err)
		return nil, err
	}

	frame.record(SiblingResult{Activity: a, Value: value, Condition: cond})
	c.setResult(value)

	state := ActivityCompleted
	if !taken {
		state = ActivitySkipped
	}
	c.run.endStatus(idx, state, nil)
	return value, nil
}

// scoped выполняет fn в новом кадре области видимости; fork отделяет переменные тела
func (c *Context) scoped(owner Activity, fork bool, fn func(body *Context) (any, error)) (any, error) {
	body := c
	if fork {
		body = c.Fork()
	}
	c.scopes.Push(owner)
	defer c.scopes.Pop()
	return fn(body)
}

func (r *Run) beginStatus(path string, a Activity) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit := r.executor.statusLimit; limit > 0 && len(r.statuses) >= limit {
		return -1
	}
	r.statuses = append(r.statuses, ActivityStatus{
		Path:      path,
		Selector:  a.Selector(),
		Kind:      a.Kind(),
		State:     ActivityRunning,
		StartedAt: time.Now(),
	})
	return len(r.statuses) - 1
}

func (r *Run) endStatus(idx int, state ActivityState, err error) {
	if idx < 0 {
		return
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	st := &r.statuses[idx]
	st.State = state
	st.FinishedAt = &now
	if err != nil {
		st.Error = err.Error()
	}
}

type noServices struct{}

func (noServices) Lookup(name string) (any, error) {
	return nil, core.Errorf(core.ErrDependencyNotFound, "service %q not found: no service locator configured", name)
}

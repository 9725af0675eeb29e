package activity

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Имена переменных, которые исполнитель задает сам
const (
	VarItem  = "item"
	VarIndex = "index"
	VarError = "error"
)

// variables таблица переменных тела с прототипной ссылкой на родителя
type variables struct {
	mu     sync.RWMutex
	parent *variables
	data      map[string]any
	result    any
	hasResult bool
}

func newVariables(parent *variables) *variables {
	return &variables{parent: parent, data: make(map[string]any)}
}

func (v *variables) lookup(key string) (any, bool) {
	for cur := v; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		val, ok := cur.data[key]
		cur.mu.RUnlock()
		if ok {
			return val, true
		}
	}
	return nil, false
}

func (v *variables) assign(key string, val any) {
	for cur := v; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		if _, ok := cur.data[key]; ok {
			cur.data[key] = val
			cur.mu.Unlock()
			return
		}
		cur.mu.Unlock()
	}
	v.mu.Lock()
	v.data[key] = val
	v.mu.Unlock()
}

// Context контекст вызова активности.
// Контексты одного тела разделяют таблицу переменных, вложенные тела получают
// дочернюю таблицу со ссылкой на родительскую.
type Context struct {
	ctx    context.Context
	run    *Run
	input  any
	vars   *variables
	scopes *ScopeStack
	path   string
}

// Context возвращает context.Context выполнения
func (c *Context) Context() context.Context {
	return c.ctx
}

// WithContext возвращает копию контекста с другим context.Context
func (c *Context) WithContext(ctx context.Context) *Context {
	cp := *c
	cp.ctx = ctx
	return &cp
}

// RunID возвращает идентификатор запуска
func (c *Context) RunID() string {
	return c.run.id
}

// Path возвращает путь текущего узла в дереве
func (c *Context) Path() string {
	return c.path
}

// Input возвращает входные данные
func (c *Context) Input() any {
	return c.input
}

// GetData ищет переменную в текущем теле и выше по цепочке родителей
func (c *Context) GetData(key string) (any, bool) {
	return c.vars.lookup(key)
}

// Data возвращает переменную или nil
func (c *Context) Data(key string) any {
	v, _ := c.vars.lookup(key)
	return v
}

// SetValue записывает переменную туда, где она уже определена, иначе в текущее тело
func (c *Context) SetValue(key string, val any) {
	c.vars.assign(key, val)
}

// SetRun записывает переменную в корневое тело запуска, видимое всем ветвям
func (c *Context) SetRun(key string, val any) {
	root := c.vars
	for root.parent != nil {
		root = root.parent
	}
	root.mu.Lock()
	root.data[key] = val
	root.mu.Unlock()
}

// SetLocal записывает переменную в текущее тело, перекрывая родительские
func (c *Context) SetLocal(key string, val any) {
	c.vars.mu.Lock()
	c.vars.data[key] = val
	c.vars.mu.Unlock()
}

// Result возвращает результат последнего выполненного узла: в текущем теле,
// а если в нем еще ничего не выполнялось, то в ближайшем внешнем.
func (c *Context) Result() any {
	for cur := c.vars; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.result, cur.hasResult
		cur.mu.RUnlock()
		if ok {
			return v
		}
	}
	return nil
}

func (c *Context) setResult(v any) {
	c.vars.mu.Lock()
	c.vars.result = v
	c.vars.hasResult = true
	c.vars.mu.Unlock()
}

// Previous возвращает запись о предыдущем соседе в текущей области видимости
func (c *Context) Previous() (SiblingResult, bool) {
	return c.scopes.Current().Last()
}

// Scope возвращает текущий кадр области видимости
func (c *Context) Scope() *Frame {
	return c.scopes.Current()
}

// Snapshot возвращает плоскую копию переменных: ближние перекрывают дальние
func (c *Context) Snapshot() map[string]any {
	var chain []*variables
	for cur := c.vars; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		for k, v := range chain[i].data {
			out[k] = v
		}
		chain[i].mu.RUnlock()
	}
	return out
}

// Logger возвращает логгер с полями запуска и узла
func (c *Context) Logger() logrus.FieldLogger {
	return c.run.executor.logger.WithFields(logrus.Fields{
		"run_id": c.run.id,
		"path":   c.path,
	})
}

// Services возвращает локатор сервисов исполнителя
func (c *Context) Services() ServiceLocator {
	return c.run.executor.services
}

// Fork создает дочерний контекст для вложенного тела в той же области видимости
func (c *Context) Fork() *Context {
	cp := *c
	cp.vars = newVariables(c.vars)
	return &cp
}

// forkBranch создает контекст независимой ветви с собственным стеком областей
func (c *Context) forkBranch(owner Activity) *Context {
	cp := c.Fork()
	cp.scopes = NewScopeStack(owner)
	return cp
}

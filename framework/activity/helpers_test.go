package activity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recorder фиксирует порядок вызова тестовых действий
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) action(name string) Func {
	return func(ctx *Context) (any, error) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return name, nil
	}
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestExecutor(t *testing.T) (*Executor, *recorder) {
	t.Helper()
	rec := &recorder{}
	reg := NewRegistry()
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, reg.RegisterFunc(name, rec.action(name)))
	}
	return NewExecutor(reg), rec
}

type obj = map[string]any

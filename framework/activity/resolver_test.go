package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/activities/framework/core"
)

func TestParseTemplate_Kinds(t *testing.T) {
	cases := []struct {
		name string
		raw  any
		kind TemplateKind
	}{
		{"selector", "if", TemplateSelector},
		{"object", obj{"activity": "if", "condition": true}, TemplateObject},
		{"list", []any{"a", "b"}, TemplateList},
		{"func", Func(func(*Context) (any, error) { return nil, nil }), TemplateFunc},
		{"plain func", func(*Context) (any, error) { return nil, nil }, TemplateFunc},
		{"factory", Factory(sequenceFactory), TemplateFactory},
		{"activity", NewSequence(), TemplateActivity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tpl, err := ParseTemplate(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, tpl.Kind())
		})
	}
}

func TestParseTemplate_Invalid(t *testing.T) {
	for _, raw := range []any{nil, "", 42, obj{"condition": true}, obj{"activity": 1}} {
		_, err := ParseTemplate(raw)
		assert.True(t, core.HasCode(err, core.ErrInvalidTemplate), "raw=%v err=%v", raw, err)
	}
}

func TestParseTemplate_ObjectProperties(t *testing.T) {
	tpl, err := ParseTemplate(obj{"activity": "each", "each": []any{1}, "parallel": true})
	require.NoError(t, err)
	assert.Equal(t, "each", tpl.SelectorName())
	assert.Equal(t, Properties{"each": []any{1}, "parallel": true}, tpl.Properties())
}

func TestResolver_UnknownActivity(t *testing.T) {
	r := NewResolver(NewRegistry())

	_, err := r.Resolve("nope")
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrUnknownActivity))

	_, err = r.Resolve([]any{"sequence", obj{"activity": "if", "body": "missing"}})
	assert.True(t, core.HasCode(err, core.ErrUnknownActivity))
}

func TestResolver_ListBecomesSequence(t *testing.T) {
	exec, _ := newTestExecutor(t)

	a, err := exec.Resolver().Resolve([]any{"a", "b"})
	require.NoError(t, err)
	seq, ok := a.(*Sequence)
	require.True(t, ok)
	assert.Equal(t, KindSequence, seq.Kind())
	assert.Len(t, seq.Children(), 2)
}

func TestResolver_UnknownPropertyRejected(t *testing.T) {
	r := NewResolver(NewRegistry())
	_, err := r.Resolve(obj{"activity": "if", "condition": true, "bogus": 1})
	require.Error(t, err)
	assert.True(t, core.HasCode(err, core.ErrInvalidTemplate))
}

func TestResolver_ElseRejectsCondition(t *testing.T) {
	r := NewResolver(NewRegistry())
	_, err := r.Resolve(obj{"activity": "else", "condition": true})
	assert.True(t, core.HasCode(err, core.ErrInvalidTemplate))
}

func TestResolver_FactoryReference(t *testing.T) {
	exec, rec := newTestExecutor(t)

	factory := Factory(func(props Properties, r *Resolver) (Activity, error) {
		return r.Resolve([]any{"a", "b"})
	})
	out, err := exec.Run(t.Context(), obj{"activity": factory}, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", out)
	assert.Equal(t, []string{"a", "b"}, rec.Calls())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.Subset(t, reg.Selectors(), []string{"sequence", "parallel", "if", "elseif", "else", "switch", "try", "each", "while", "dowhile", "delay", "throw", "assign", "log", "invoke"})

	err := reg.Register("if", sequenceFactory)
	assert.True(t, core.HasCode(err, core.ErrAlreadyExists))
	assert.Error(t, reg.Register("", sequenceFactory))
	assert.Error(t, reg.Register("x", nil))
	assert.Panics(t, func() { reg.MustRegister("if", sequenceFactory) })

	_, ok := reg.Lookup("missing")
	assert.False(t, ok)
}

type greetAction struct {
	Name string `mapstructure:"name"`
}

func (g *greetAction) Execute(ctx *Context) (any, error) {
	return "hello " + g.Name, nil
}

func TestRegistry_RegisterAction(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterAction("greet", func() Action { return &greetAction{} }))
	exec := NewExecutor(reg)

	out, err := exec.Run(t.Context(), obj{"activity": "greet", "name": "world"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)

	_, err = exec.Run(t.Context(), obj{"activity": "greet", "unknown": true}, nil)
	assert.True(t, core.HasCode(err, core.ErrInvalidTemplate))
}

package activity

import "github.com/akriventsev/activities/framework/core"

// If выполняет тело, если условие истинно, и записывает состояние условия в текущий кадр
type If struct {
	composite
	condition any
	body      Activity
}

// NewIf создает узел if
func NewIf(condition any, body Activity) *If {
	return &If{composite: composite{selector: string(KindIf)}, condition: condition, body: body}
}

func (a *If) Kind() Kind { return KindIf }

func (a *If) execute(ctx *Context) (any, error) {
	return evaluateBranch(ctx, a, a.condition, a.body)
}

// ElseIf вычисляет свое условие, только если предыдущее звено цепочки ложно
type ElseIf struct {
	composite
	condition any
	body      Activity
}

// NewElseIf создает узел elseif
func NewElseIf(condition any, body Activity) *ElseIf {
	return &ElseIf{composite: composite{selector: string(KindElseIf)}, condition: condition, body: body}
}

func (a *ElseIf) Kind() Kind { return KindElseIf }

func (a *ElseIf) execute(ctx *Context) (any, error) {
	prev, err := chainPredecessor(ctx, KindElseIf)
	if err != nil {
		return nil, err
	}
	if prev.Condition == ConditionTrue {
		return branchResult{value: prev.Value, state: ConditionTrue}, nil
	}
	return evaluateBranch(ctx, a, a.condition, a.body)
}

// Else выполняет тело, если предыдущее звено цепочки ложно
type Else struct {
	composite
	body Activity
}

// NewElse создает узел else
func NewElse(body Activity) *Else {
	return &Else{composite: composite{selector: string(KindElse)}, body: body}
}

func (a *Else) Kind() Kind { return KindElse }

func (a *Else) execute(ctx *Context) (any, error) {
	prev, err := chainPredecessor(ctx, KindElse)
	if err != nil {
		return nil, err
	}
	if prev.Condition == ConditionTrue {
		return branchResult{value: prev.Value, state: ConditionTrue}, nil
	}
	v, err := ctx.scoped(a, true, func(body *Context) (any, error) {
		return body.Run(a.body)
	})
	if err != nil {
		return nil, err
	}
	return branchResult{value: v, state: ConditionTrue, taken: true}, nil
}

func evaluateBranch(ctx *Context, owner Activity, condition any, body Activity) (any, error) {
	ok, err := ctx.ResolveBool(condition)
	if err != nil {
		return nil, err
	}
	if !ok {
		return branchResult{state: ConditionFalse}, nil
	}
	v, err := ctx.scoped(owner, true, func(b *Context) (any, error) {
		return b.Run(body)
	})
	if err != nil {
		return nil, err
	}
	return branchResult{value: v, state: ConditionTrue, taken: true}, nil
}

// chainPredecessor возвращает непосредственно предшествующее звено if/elseif в текущем кадре
func chainPredecessor(ctx *Context, kind Kind) (SiblingResult, error) {
	prev, ok := ctx.Previous()
	if !ok {
		return SiblingResult{}, core.Errorf(core.ErrInvalidTemplate, "%s without preceding if", kind)
	}
	switch prev.Activity.Kind() {
	case KindIf, KindElseIf:
	default:
		return SiblingResult{}, core.Errorf(core.ErrInvalidTemplate, "%s must follow if or elseif, got %s", kind, prev.Activity.Kind())
	}
	if prev.Condition == ConditionUnset {
		return SiblingResult{}, core.Errorf(core.ErrInvalidTemplate, "%s: preceding %s has no evaluated condition", kind, prev.Activity.Kind())
	}
	return prev, nil
}

type conditionProps struct {
	Condition any `mapstructure:"condition"`
	Body      any `mapstructure:"body"`
}

func conditionalFactory(kind Kind) Factory {
	return func(props Properties, r *Resolver) (Activity, error) {
		var p conditionProps
		if err := Bind(props, &p); err != nil {
			return nil, err
		}
		if kind == KindElse && p.Condition != nil {
			return nil, core.NewError(core.ErrInvalidTemplate, "else does not accept a condition")
		}
		body, err := r.ResolveBody(p.Body)
		if err != nil {
			return nil, err
		}
		switch kind {
		case KindIf:
			return NewIf(p.Condition, body), nil
		case KindElseIf:
			return NewElseIf(p.Condition, body), nil
		default:
			return NewElse(body), nil
		}
	}
}

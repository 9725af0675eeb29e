// Package activity предоставляет интерпретатор декларативных шаблонов активностей:
// реестр селекторов, резолвер шаблонов, стек областей видимости и исполнитель
// управляющих конструкций (sequence, parallel, if/elseif/else, switch, try, each).
package activity

// Kind тип узла дерева активностей
type Kind string

const (
	KindLeaf     Kind = "leaf"
	KindSequence Kind = "sequence"
	KindParallel Kind = "parallel"
	KindIf       Kind = "if"
	KindElseIf   Kind = "elseif"
	KindElse     Kind = "else"
	KindSwitch   Kind = "switch"
	KindTryCatch Kind = "try"
	KindEach     Kind = "each"
	KindWhile    Kind = "while"
	KindDoWhile  Kind = "dowhile"
)

// Activity исполняемый узел дерева активностей.
// Набор реализаций закрыт: пользовательские активности подключаются как Leaf через Action.
type Activity interface {
	// Kind возвращает тип узла
	Kind() Kind
	// Selector возвращает селектор, из которого узел был создан
	Selector() string
	// IsScope сообщает, открывает ли узел собственную область видимости
	IsScope() bool

	execute(ctx *Context) (any, error)
}

// Action пользовательское действие, исполняемое листовой активностью
type Action interface {
	Execute(ctx *Context) (any, error)
}

// Func функция-действие
type Func func(ctx *Context) (any, error)

// Execute реализует Action
func (f Func) Execute(ctx *Context) (any, error) {
	return f(ctx)
}

// Leaf листовая активность, выполняющая Action
type Leaf struct {
	selector string
	action   Action
}

// NewLeaf создает листовую активность
func NewLeaf(selector string, action Action) *Leaf {
	if selector == "" {
		selector = string(KindLeaf)
	}
	return &Leaf{selector: selector, action: action}
}

func (l *Leaf) Kind() Kind       { return KindLeaf }
func (l *Leaf) Selector() string { return l.selector }
func (l *Leaf) IsScope() bool    { return false }

// Action возвращает действие листа
func (l *Leaf) Action() Action {
	return l.action
}

func (l *Leaf) execute(ctx *Context) (any, error) {
	return l.action.Execute(ctx)
}

// composite общая часть составных узлов
type composite struct {
	selector string
}

func (c composite) Selector() string { return c.selector }
func (c composite) IsScope() bool    { return true }

// branchResult результат звена цепочки if/elseif/else вместе с состоянием условия
type branchResult struct {
	value any
	state ConditionState
	taken bool
}

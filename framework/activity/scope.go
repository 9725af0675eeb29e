package activity

// ConditionState состояние условия звена if/elseif/else
type ConditionState int

const (
	ConditionUnset ConditionState = iota
	ConditionTrue
	ConditionFalse
)

// String возвращает имя состояния
func (s ConditionState) String() string {
	switch s {
	case ConditionTrue:
		return "TRUE"
	case ConditionFalse:
		return "FALSE"
	default:
		return "UNSET"
	}
}

// SiblingResult запись о выполненном соседнем узле в кадре области видимости
type SiblingResult struct {
	Activity  Activity
	Value     any
	Condition ConditionState
}

// Frame кадр области видимости
type Frame struct {
	owner   Activity
	results []SiblingResult
	values  map[string]any
}

// Owner возвращает активность, открывшую кадр
func (f *Frame) Owner() Activity {
	return f.owner
}

// Last возвращает запись о непосредственно предшествующем соседе
func (f *Frame) Last() (SiblingResult, bool) {
	if len(f.results) == 0 {
		return SiblingResult{}, false
	}
	return f.results[len(f.results)-1], true
}

// Results возвращает записи о соседях в порядке выполнения
func (f *Frame) Results() []SiblingResult {
	return append([]SiblingResult(nil), f.results...)
}

// Len возвращает число записей
func (f *Frame) Len() int {
	return len(f.results)
}

// Value возвращает значение из таблицы кадра
func (f *Frame) Value(key string) (any, bool) {
	v, ok := f.values[key]
	return v, ok
}

// SetValue записывает значение в таблицу кадра
func (f *Frame) SetValue(key string, v any) {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	f.values[key] = v
}

func (f *Frame) record(r SiblingResult) {
	f.results = append(f.results, r)
}

// ScopeStack стек кадров одной ветви выполнения.
// Стек не разделяется между параллельными ветвями, поэтому не синхронизирован.
type ScopeStack struct {
	frames []*Frame
}

// NewScopeStack создает стек с корневым кадром
func NewScopeStack(owner Activity) *ScopeStack {
	return &ScopeStack{frames: []*Frame{{owner: owner}}}
}

// Push открывает новый кадр
func (s *ScopeStack) Push(owner Activity) *Frame {
	f := &Frame{owner: owner}
	s.frames = append(s.frames, f)
	return f
}

// Pop закрывает верхний кадр. Корневой кадр не снимается.
func (s *ScopeStack) Pop() *Frame {
	if len(s.frames) <= 1 {
		return s.frames[0]
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top
}

// Current возвращает верхний кадр
func (s *ScopeStack) Current() *Frame {
	return s.frames[len(s.frames)-1]
}

// Depth возвращает глубину стека
func (s *ScopeStack) Depth() int {
	return len(s.frames)
}

// Package core предоставляет базовые типы для всех компонентов фреймворка.
package core

// Result[T] generic тип для результатов операций (успех/ошибка)
type Result[T any] struct {
	Value T
	Error error
}

// Ok создает успешный результат
func Ok[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Err создает результат с ошибкой
func Err[T any](err error) Result[T] {
	return Result[T]{Error: err}
}

// IsOk проверяет, успешен ли результат
func (r Result[T]) IsOk() bool {
	return r.Error == nil
}

// IsErr проверяет, есть ли ошибка в результате
func (r Result[T]) IsErr() bool {
	return r.Error != nil
}

// Future возвращает канал, в который асинхронно будет записан результат fn.
// Канал закрывается после записи единственного значения.
func Future[T any](fn func() (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := fn()
		if err != nil {
			ch <- Err[T](err)
			return
		}
		ch <- Ok(v)
	}()
	return ch
}

// ComponentType enum для типов компонентов
type ComponentType string

const (
	ComponentTypeModule    ComponentType = "module"
	ComponentTypeAdapter   ComponentType = "adapter"
	ComponentTypeTransport ComponentType = "transport"
	ComponentTypeStore     ComponentType = "store"
	ComponentTypeTrigger   ComponentType = "trigger"
)

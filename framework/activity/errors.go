package activity

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/akriventsev/activities/framework/core"
)

// ThrownError ошибка, поднятая активностью throw
type ThrownError struct {
	Type    string
	Message string
	Data    any
}

// Error реализует интерфейс error
func (e *ThrownError) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Is сравнивает ошибки по типу
func (e *ThrownError) Is(target error) bool {
	t, ok := target.(*ThrownError)
	return ok && t.Type == e.Type
}

// ActivityError ошибка узла с путем в дереве
type ActivityError struct {
	Path     string
	Selector string
	Err      error
}

// Error реализует интерфейс error
func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s (%s): %v", e.Selector, e.Path, e.Err)
}

// Unwrap возвращает исходную ошибку
func (e *ActivityError) Unwrap() error {
	return e.Err
}

// Cause снимает обертки ActivityError и возвращает ошибку, поднятую узлом
func Cause(err error) error {
	for {
		ae, ok := err.(*ActivityError)
		if !ok {
			return err
		}
		err = ae.Err
	}
}

// ErrorMatcher произвольный предикат для catch
type ErrorMatcher func(err error) bool

// MatchError проверяет, соответствует ли ошибка объявленному в catch типу.
// nil, "" и "*" означают перехват любой ошибки.
func MatchError(err error, declared any) bool {
	switch d := declared.(type) {
	case nil:
		return true
	case string:
		return matchErrorName(err, d)
	case []any:
		for _, item := range d {
			if MatchError(err, item) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range d {
			if matchErrorName(err, item) {
				return true
			}
		}
		return false
	case ErrorMatcher:
		return d(err)
	case func(error) bool:
		return d(err)
	case error:
		return errors.Is(err, d)
	default:
		return false
	}
}

func matchErrorName(err error, name string) bool {
	switch name {
	case "", "*":
		return true
	case "timeout":
		return errors.Is(err, context.DeadlineExceeded)
	case "cancelled", "canceled":
		return errors.Is(err, context.Canceled)
	}

	if errors.Is(err, &ThrownError{Type: name}) || core.HasCode(err, name) {
		return true
	}

	// обертки исполнителя не участвуют в сопоставлении по имени типа
	for _, e := range unwrapAll(Cause(err)) {
		if _, ok := e.(*ActivityError); ok {
			continue
		}
		t := reflect.TypeOf(e)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t.Name() == name || t.String() == strings.TrimPrefix(name, "*") {
			return true
		}
	}
	return false
}

// unwrapAll обходит дерево ошибок, включая errors.Join
func unwrapAll(err error) []error {
	var out []error
	queue := []error{err}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		if e == nil {
			continue
		}
		out = append(out, e)
		switch u := e.(type) {
		case interface{ Unwrap() []error }:
			queue = append(queue, u.Unwrap()...)
		case interface{ Unwrap() error }:
			queue = append(queue, u.Unwrap())
		}
	}
	return out
}

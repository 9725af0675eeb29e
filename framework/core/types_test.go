package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	ok := Ok(42)
	assert.True(t, ok.IsOk())
	assert.False(t, ok.IsErr())
	assert.Equal(t, 42, ok.Value)

	bad := Err[int](errors.New("boom"))
	assert.True(t, bad.IsErr())
	assert.EqualError(t, bad.Error, "boom")
}

func TestFuture(t *testing.T) {
	res := <-Future(func() (string, error) { return "done", nil })
	require.True(t, res.IsOk())
	assert.Equal(t, "done", res.Value)

	res = <-Future(func() (string, error) { return "", errors.New("failed") })
	assert.True(t, res.IsErr())

	_, open := <-Future(func() (int, error) { return 1, nil })
	assert.True(t, open)
}

func TestFrameworkError_Codes(t *testing.T) {
	base := NewError(ErrUnknownActivity, "unknown activity \"foo\"")
	wrapped := fmt.Errorf("resolve: %w", base)

	assert.True(t, HasCode(wrapped, ErrUnknownActivity))
	assert.False(t, HasCode(wrapped, ErrNotFound))
	assert.Equal(t, ErrUnknownActivity, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Contains(t, base.Error(), "[UNKNOWN_ACTIVITY]")
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrActivityFailed, "ignored"))

	cause := errors.New("io")
	err := Wrap(cause, ErrActivityFailed, "leaf failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[ACTIVITY_FAILED] leaf failed: io", err.Error())

	ctxErr := err.WithContext("sequence")
	assert.Equal(t, "sequence: leaf failed", ctxErr.Message)
	assert.True(t, errors.Is(ctxErr, NewError(ErrActivityFailed, "")))
}

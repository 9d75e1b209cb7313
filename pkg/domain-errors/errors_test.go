package domainerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("direct code matches", func(t *testing.T) {
		err := New(CodeValidation, "bad name")
		assert.True(t, HasCode(err, CodeValidation))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("nested coded errors are searched", func(t *testing.T) {
		inner := New(CodeTimeout, "deadline")
		outer := Wrap(inner, CodeUnavailable, "store failed")
		assert.True(t, HasCode(outer, CodeUnavailable))
		assert.True(t, HasCode(outer, CodeTimeout))
	})

	t.Run("fmt wrapping is transparent", func(t *testing.T) {
		err := fmt.Errorf("load: %w", New(CodeNotFound, "missing"))
		assert.True(t, Is(err, CodeNotFound))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.False(t, HasCode(nil, CodeInternal))
	})
}

func TestWrapKeepsCause(t *testing.T) {
	err := Wrap(context.DeadlineExceeded, CodeTimeout, "ledger mutation timed out")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "ledger mutation timed out")

	de, ok := As(err)
	assert.True(t, ok)
	assert.Equal(t, CodeTimeout, de.Code)
}

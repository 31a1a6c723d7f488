package xemit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFacade_DefaultEmitter(t *testing.T) {
	prev := Default()
	assert.Same(t, prev, Default())

	e, _ := newTestEmitter(t)
	SetDefault(e)
	t.Cleanup(func() { SetDefault(prev) })

	var r recorder
	s := On("facade.*", r.handler)
	Once("facade.once", r.handler)

	Emit("facade.once", 1)
	Emit("facade.once", 2)
	assert.Equal(t, []any{1, 1, 2}, r.got())

	assert.Equal(t, 1, Off(BySubscription(s)))
	Emit("facade.once", 3)
	assert.Equal(t, []any{1, 1, 2}, r.got())
}

func TestFacade_SetDefaultNilPanics(t *testing.T) {
	assert.Panics(t, func() { SetDefault(nil) })
}

func TestNew_ReturnsCloseFunc(t *testing.T) {
	e, closeFn, err := New(nil)
	assert.NoError(t, err)
	assert.NotNil(t, e)

	s := e.On("t", noop)
	assert.NoError(t, closeFn())
	assert.False(t, s.IsActive())
	assert.Equal(t, "unhealthy", e.Health(context.Background()).Status)
}

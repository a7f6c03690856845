package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterOnAndOnce(t *testing.T) {
	t.Parallel()

	var (
		e   Emitter[int]
		got []int
	)

	e.On(func(v int) { got = append(got, v) })
	e.Once(func(v int) { got = append(got, v*10) })

	assert.Equal(t, 2, e.Emit(1))
	assert.Equal(t, 1, e.Emit(2))
	assert.Equal(t, []int{1, 10, 2}, got)
	assert.Equal(t, 1, e.Len())
}

func TestEmitterCancelDuringEmit(t *testing.T) {
	t.Parallel()

	var (
		e      Emitter[struct{}]
		second Subscription
		calls  int
	)

	e.On(func(struct{}) {
		calls++
		second.Cancel()
	})
	second = e.On(func(struct{}) { calls += 100 })

	assert.Equal(t, 1, e.Emit(struct{}{}))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, e.Len())

	second.Cancel()
	assert.Equal(t, 1, e.Len())
}

func TestEmitterListenerAddedDuringEmit(t *testing.T) {
	t.Parallel()

	var (
		e     Emitter[int]
		calls int
	)

	e.Once(func(int) {
		e.On(func(int) { calls++ })
	})

	assert.Equal(t, 1, e.Emit(0))
	assert.Equal(t, 0, calls)
	assert.Equal(t, 1, e.Emit(0))
	assert.Equal(t, 1, calls)
}

package mediasoup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventEmitterOnAndEmit(t *testing.T) {
	e := NewEventEmitter()
	var got []string
	e.On("score", func(who string) { got = append(got, who) })
	e.Emit("score", "producer-1")
	e.Emit("score", "producer-2")
	assert.Equal(t, []string{"producer-1", "producer-2"}, got)
}

func TestEventEmitterOnceFiresOnlyOnce(t *testing.T) {
	e := NewEventEmitter()
	calls := 0
	e.Once("close", func() { calls++ })
	e.Emit("close")
	e.Emit("close")
	assert.Equal(t, 1, calls)
}

func TestEventEmitterOff(t *testing.T) {
	e := NewEventEmitter()
	handler := func() {}
	e.On("close", handler)
	assert.Equal(t, 1, e.ListenerCount("close"))
	e.Off("close", handler)
	assert.Equal(t, 0, e.ListenerCount("close"))
}

func TestEventEmitterSafeEmitRecoversPanic(t *testing.T) {
	e := NewEventEmitter()
	secondCalled := false
	e.On("trace", func() { panic("boom") })
	e.On("trace", func() { secondCalled = true })
	assert.NotPanics(t, func() { e.SafeEmit("trace") })
	assert.True(t, secondCalled)
}

func TestEventEmitterRemoveAllListeners(t *testing.T) {
	e := NewEventEmitter()
	e.On("a", func() {})
	e.On("b", func() {})
	e.RemoveAllListeners()
	assert.Equal(t, 0, e.ListenerCount("a"))
	assert.Equal(t, 0, e.ListenerCount("b"))
}

func TestEventEmitterHandlerAddedDuringDispatchRunsNextEmit(t *testing.T) {
	e := NewEventEmitter()
	var order []int
	e.On("x", func() {
		order = append(order, 1)
		e.On("x", func() { order = append(order, 2) })
	})
	e.Emit("x")
	e.Emit("x")
	assert.Equal(t, []int{1, 1, 2}, order)
}

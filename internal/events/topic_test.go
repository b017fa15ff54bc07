package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic_PublishDropsWhenFull(t *testing.T) {
	topic := NewTopic[string]()
	fast := topic.Subscribe(4)
	slow := topic.Subscribe(1)

	assert.Equal(t, 2, topic.Publish("a"))
	assert.Equal(t, 1, topic.Publish("b"))

	assert.Equal(t, "a", <-fast.C())
	assert.Equal(t, "b", <-fast.C())
	assert.Equal(t, "a", <-slow.C())
	assert.Equal(t, int64(1), slow.Dropped())
}

func TestSubscription_Close(t *testing.T) {
	topic := NewTopic[int]()
	sub := topic.Subscribe(1)
	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, topic.Subscribers())
	assert.Equal(t, 0, topic.Publish(1))
}

func TestTopic_Close(t *testing.T) {
	topic := NewTopic[int]()
	sub := topic.Subscribe(1)
	topic.Close()
	topic.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	late := topic.Subscribe(1)
	_, ok = <-late.C()
	assert.False(t, ok, "subscribing to a closed topic yields a closed channel")
}

func TestBus(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Transform.Subscribe(1)
	bus.Transform.Publish(TransformChange{ClipID: "c"})
	change := <-sub.C()
	require.Equal(t, "c", change.ClipID)
}

package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanout(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	Publish(b, OrderArmed, OrderSignal{OrderID: 7, Key: "7"})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		assert.Equal(t, OrderArmed, e.Type)
		assert.False(t, e.Time.IsZero())
		sig, ok := e.Data.(OrderSignal)
		require.True(t, ok)
		assert.EqualValues(t, 7, sig.OrderID)
	}

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	Publish(b, OrderDead, OrderSignal{OrderID: 7})
	assert.Equal(t, OrderDead, (<-c).Type)
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()
	for i := 0; i < 5; i++ {
		Publish(b, OrderFired, nil)
	}
	assert.EqualValues(t, 4, Dropped(b))
}

func TestPublishNilBus(t *testing.T) {
	t.Parallel()
	Publish(nil, OrderFired, nil)
}

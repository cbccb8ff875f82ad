package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesEverySubscriber(t *testing.T) {
	bus := NewBus()
	a, unsubA := bus.Subscribe(TopicOrderUpdate, 1)
	b, unsubB := bus.Subscribe(TopicOrderUpdate, 1)
	defer unsubA()
	defer unsubB()
	other, unsubOther := bus.Subscribe(TopicDepthUpdate, 1)
	defer unsubOther()

	bus.Publish(TopicOrderUpdate, "client_1")

	for _, ch := range []<-chan Message{a, b} {
		select {
		case msg := <-ch:
			assert.Equal(t, TopicOrderUpdate, msg.Topic)
			assert.Equal(t, "client_1", msg.Payload)
			assert.False(t, msg.Time.IsZero())
		default:
			t.Fatal("subscriber missed message")
		}
	}
	assert.Empty(t, other)
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicRiskReject, 1)
	defer unsub()

	bus.Publish(TopicRiskReject, 1)
	bus.Publish(TopicRiskReject, 2)

	assert.Equal(t, uint64(1), bus.Dropped())
	msg := <-ch
	assert.Equal(t, 1, msg.Payload)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe(TopicDepthUpdate, 1)
	require.Equal(t, 1, bus.Subscribers(TopicDepthUpdate))

	unsub()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, bus.Subscribers(TopicDepthUpdate))
	bus.Publish(TopicDepthUpdate, "ignored")
}

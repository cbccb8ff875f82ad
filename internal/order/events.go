package order

import "pairs-trading-core/internal/events"

// PublishUpdates forwards every order update from g onto the bus.
func PublishUpdates(g *Gateway, bus *events.Bus) (cancel func()) {
	if bus == nil {
		return func() {}
	}
	return g.Subscribe(func(o Order) {
		bus.Publish(events.TopicOrderUpdate, o)
	})
}

package events

import "time"

// Topic names a stream of messages on the bus.
type Topic string

const (
	TopicDepthUpdate Topic = "depth_update"
	TopicOrderUpdate Topic = "order_update"
	TopicRiskReject  Topic = "risk_reject"
	TopicSignal      Topic = "signal"
)

// Topics lists every topic the pipeline publishes.
func Topics() []Topic {
	return []Topic{TopicDepthUpdate, TopicOrderUpdate, TopicRiskReject, TopicSignal}
}

// Message is one published payload.
type Message struct {
	Topic   Topic     `json:"topic"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// RiskReject is published when a proposed leg fails the risk check.
type RiskReject struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	Reason   string  `json:"reason"`
}

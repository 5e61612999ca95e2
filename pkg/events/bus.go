package events

type Handler func(Event)

type Subscription interface {
	Unsubscribe()
}

// TopicStats covers one of the hotspotd topics in topics.go, or any other
// topic something subscribed to or published on.
type TopicStats struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
}

type Stats struct {
	Topics       []TopicStats `json:"topics"`
	PublishChLen int          `json:"publish-channel-length"`
	PublishChCap int          `json:"publish-channel-capacity"`
	Published    uint64       `json:"published"`
	Delivered    uint64       `json:"delivered"`
	Dropped      uint64       `json:"dropped"`
}

// Bus fans events out to subscribers. Publish never blocks; each
// subscription receives its events in publish order.
type Bus interface {
	Publish(topic string, event Event)
	Subscribe(topic string, handler Handler) Subscription
	SubscribeAll(handler Handler) Subscription
	Stats() Stats
	Close() error
}

package push

import (
	"github.com/veesix-networks/hotspotd/pkg/events"
	"github.com/veesix-networks/hotspotd/pkg/models"
)

// Channel delivers real-time notifications to subscriber devices. Delivery is
// fire-and-forget; implementations must not block the caller.
type Channel interface {
	Notify(userID string, payload models.Notification)
	Broadcast(payload models.Notification)
}

// BusChannel publishes notifications on the event bus, where the websocket
// gateway and the Redis sink pick them up.
type BusChannel struct {
	bus    events.Bus
	source string
}

func NewBusChannel(bus events.Bus, source string) *BusChannel {
	return &BusChannel{bus: bus, source: source}
}

func (c *BusChannel) Notify(userID string, payload models.Notification) {
	c.bus.Publish(events.TopicNotifyUser, events.NewEvent(c.source, events.NotifyEvent{
		UserID:       userID,
		NAS:          payload.NAS,
		Notification: payload,
	}))
}

func (c *BusChannel) Broadcast(payload models.Notification) {
	c.bus.Publish(events.TopicNotifyBroadcast, events.NewEvent(c.source, events.NotifyEvent{
		NAS:          payload.NAS,
		Notification: payload,
	}))
}

type discard struct{}

func (discard) Notify(string, models.Notification) {}
func (discard) Broadcast(models.Notification)      {}

// Discard drops everything.
var Discard Channel = discard{}

package exporter

import "github.com/veesix-networks/hotspotd/pkg/events"

type BusStats struct {
	Published  uint64 `prometheus:"name=hotspotd_events_published_total,help=Events published on the local bus,type=counter"`
	Delivered  uint64 `prometheus:"name=hotspotd_events_delivered_total,help=Events delivered to subscribers,type=counter"`
	Dropped    uint64 `prometheus:"name=hotspotd_events_dropped_total,help=Events dropped because the bus was full or closed,type=counter"`
	QueueDepth int    `prometheus:"name=hotspotd_events_queue_depth,help=Events waiting to be dispatched,type=gauge"`
}

func BusSnapshot(bus events.Bus) func() BusStats {
	return func() BusStats {
		st := bus.Stats()
		return BusStats{
			Published:  st.Published,
			Delivered:  st.Delivered,
			Dropped:    st.Dropped,
			QueueDepth: st.PublishChLen,
		}
	}
}

package gateway

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veesix-networks/hotspotd/pkg/models"
)

const sendBuffer = 64

// Event names delivered to websocket clients.
const (
	EventConnected    = "connected"
	EventWarning      = "plan-expiry-warning"
	EventExpired      = "plan-expired"
	EventCustom       = "custom-notification"
	EventBroadcast    = "broadcast-notification"
	EventSessionEnded = "session-ended"
)

type Message struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func eventFor(kind models.NotificationKind) string {
	switch kind {
	case models.NotificationWarning:
		return EventWarning
	case models.NotificationExpired:
		return EventExpired
	case models.NotificationBroadcast:
		return EventBroadcast
	default:
		return EventCustom
	}
}

type client struct {
	userID string
	nas    string
	send   chan []byte
}

// Hub tracks websocket clients by user. A user may be connected from several
// devices at once.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[*client]struct{})}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.clients, c.userID)
	}
}

// closeAll detaches every client. Their writers send a close frame and hang up.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, conns := range h.clients {
		for c := range conns {
			close(c.send)
		}
		delete(h.clients, userID)
	}
}

func (h *Hub) deliver(c *client, payload []byte) bool {
	select {
	case c.send <- payload:
		h.delivered.Add(1)
		return true
	default:
		h.dropped.Add(1)
		return false
	}
}

// ToUser queues msg for every connection of userID and returns how many
// accepted it.
func (h *Hub) ToUser(userID string, msg Message) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for c := range h.clients[userID] {
		if h.deliver(c, payload) {
			n++
		}
	}
	return n
}

// ToNAS queues msg for every connection attached to nas, or to all
// connections when nas is empty.
func (h *Hub) ToNAS(nas string, msg Message) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.clients {
		for c := range conns {
			if nas != "" && c.nas != "" && c.nas != nas {
				continue
			}
			if h.deliver(c, payload) {
				n++
			}
		}
	}
	return n
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, conns := range h.clients {
		n += len(conns)
	}
	return n
}

type HubStats struct {
	Connections int    `json:"connections" prometheus:"name=hotspotd_gateway_connections,help=Open websocket connections,type=gauge"`
	Delivered   uint64 `json:"delivered" prometheus:"name=hotspotd_gateway_delivered_total,help=Messages queued to websocket clients,type=counter"`
	Dropped     uint64 `json:"dropped" prometheus:"name=hotspotd_gateway_dropped_total,help=Messages dropped because a client was too slow,type=counter"`
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		Connections: h.Count(),
		Delivered:   h.delivered.Load(),
		Dropped:     h.dropped.Load(),
	}
}

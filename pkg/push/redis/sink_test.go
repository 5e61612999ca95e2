package redis

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veesix-networks/hotspotd/pkg/events"
	"github.com/veesix-networks/hotspotd/pkg/events/local"
	"github.com/veesix-networks/hotspotd/pkg/models"
)

func TestEncode(t *testing.T) {
	channel, body, err := Encode("hotspotd", events.NotifyEvent{
		UserID:       "u1",
		NAS:          "ap-1",
		Notification: models.Notification{Kind: models.NotificationExpired, Message: "session ended"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hotspotd:user:u1", channel)

	var msg Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, models.NotificationExpired, msg.Notification.Kind)

	channel, _, err = Encode("hotspotd", events.NotifyEvent{NAS: "ap-1"})
	require.NoError(t, err)
	assert.Equal(t, "hotspotd:broadcast", channel)
}

func TestStartFailsWithoutServer(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	bus := local.NewBus()
	defer bus.Close()

	s := New(Config{Address: addr, Channel: "hotspotd"}, bus)
	assert.Error(t, s.Start(context.Background()))
	assert.Empty(t, bus.Stats().Topics)
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/veesix-networks/hotspotd/pkg/component"
	"github.com/veesix-networks/hotspotd/pkg/events"
	"github.com/veesix-networks/hotspotd/pkg/logger"
	"github.com/veesix-networks/hotspotd/pkg/models"
)

type Config struct {
	Address  string
	Password string
	DB       int
	// Channel is the prefix of the pub/sub channels: <prefix>:user:<id> and
	// <prefix>:broadcast.
	Channel string
}

type Message struct {
	UserID       string              `json:"user_id,omitempty"`
	NAS          string              `json:"nas,omitempty"`
	Notification models.Notification `json:"notification"`
}

// Sink republishes notification events to Redis pub/sub so processes outside
// this daemon (portal backends, mobile push workers) can relay them.
type Sink struct {
	*component.Base

	cfg    Config
	bus    events.Bus
	client *redis.Client
	logger *slog.Logger
	subs   []events.Subscription
}

func New(cfg Config, bus events.Bus) *Sink {
	return &Sink{
		Base:   component.NewBase("push.redis"),
		cfg:    cfg,
		bus:    bus,
		logger: logger.Get(logger.PushRedis),
	}
}

func (s *Sink) Start(ctx context.Context) error {
	s.StartContext(ctx)

	s.client = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Address,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		s.client.Close()
		return fmt.Errorf("redis connection failed: %w", err)
	}

	s.subs = append(s.subs,
		s.bus.Subscribe(events.TopicNotifyUser, s.handle),
		s.bus.Subscribe(events.TopicNotifyBroadcast, s.handle),
	)

	s.logger.Info("Redis push sink started", "address", s.cfg.Address, "channel", s.cfg.Channel)
	return nil
}

func (s *Sink) Stop(ctx context.Context) error {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.StopContext()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Sink) handle(ev events.Event) {
	ne, ok := ev.Data.(events.NotifyEvent)
	if !ok {
		return
	}

	channel, payload, err := Encode(s.cfg.Channel, ne)
	if err != nil {
		s.logger.Error("Failed to encode notification", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.Ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		s.logger.Warn("Redis publish failed", "channel", channel, "error", err)
	}
}

// Encode returns the pub/sub channel and JSON body for a notification.
func Encode(prefix string, ne events.NotifyEvent) (string, []byte, error) {
	channel := prefix + ":broadcast"
	if ne.UserID != "" {
		channel = prefix + ":user:" + ne.UserID
	}
	body, err := json.Marshal(Message{
		UserID:       ne.UserID,
		NAS:          ne.NAS,
		Notification: ne.Notification,
	})
	return channel, body, err
}

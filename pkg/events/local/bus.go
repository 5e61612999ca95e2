package local

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/veesix-networks/hotspotd/pkg/events"
	"github.com/veesix-networks/hotspotd/pkg/logger"
)

const (
	publishQueueSize = 10000
	subQueueSize     = 1024
)

type publishRequest struct {
	topic string
	event events.Event
}

// subscription owns a queue and a goroutine, so a slow handler delays only
// its own deliveries.
type subscription struct {
	id      uint64
	topic   string
	handler events.Handler
	queue   chan events.Event
	done    chan struct{}
	once    sync.Once
	bus     *Bus
}

func (s *subscription) Unsubscribe() {
	s.bus.remove(s)
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			s.deliver(ev)
		}
	}
}

func (s *subscription) deliver(ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error("Event handler panicked", "topic", ev.Type, "panic", r)
		}
	}()
	s.handler(ev)
	s.bus.delivered.Add(1)
}

type Bus struct {
	ctx        context.Context
	cancel     context.CancelFunc
	subs       map[string]map[uint64]*subscription
	globalSubs map[uint64]*subscription
	mu         sync.RWMutex
	nextID     atomic.Uint64
	publishCh  chan publishRequest
	logger     *slog.Logger
	published  atomic.Uint64
	perTopic   sync.Map // topic -> *atomic.Uint64
	delivered  atomic.Uint64
	dropped    atomic.Uint64
}

func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())

	b := &Bus{
		ctx:        ctx,
		cancel:     cancel,
		subs:       make(map[string]map[uint64]*subscription),
		globalSubs: make(map[uint64]*subscription),
		publishCh:  make(chan publishRequest, publishQueueSize),
		logger:     logger.Get(logger.Events),
	}

	go b.publishLoop()

	return b
}

func (b *Bus) Publish(topic string, event events.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Type == "" {
		event.Type = topic
	}

	select {
	case <-b.ctx.Done():
		b.dropped.Add(1)
		return
	default:
	}

	select {
	case b.publishCh <- publishRequest{topic: topic, event: event}:
		b.published.Add(1)
		b.topicCounter(topic).Add(1)
	default:
		b.dropped.Add(1)
		b.logger.Warn("Publish channel full, dropping event", "topic", topic)
	}
}

func (b *Bus) topicCounter(topic string) *atomic.Uint64 {
	if c, ok := b.perTopic.Load(topic); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := b.perTopic.LoadOrStore(topic, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}

func (b *Bus) publishLoop() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case req := <-b.publishCh:
			b.mu.RLock()
			targets := make([]*subscription, 0, len(b.subs[req.topic])+len(b.globalSubs))
			for _, s := range b.subs[req.topic] {
				targets = append(targets, s)
			}
			for _, s := range b.globalSubs {
				targets = append(targets, s)
			}
			b.mu.RUnlock()

			for _, s := range targets {
				select {
				case s.queue <- req.event:
				case <-s.done:
				default:
					b.dropped.Add(1)
					b.logger.Warn("Subscriber queue full, dropping event", "topic", req.topic, "subscription", s.id)
				}
			}
		}
	}
}

func (b *Bus) newSubscription(topic string, handler events.Handler) *subscription {
	s := &subscription{
		id:      b.nextID.Add(1),
		topic:   topic,
		handler: handler,
		queue:   make(chan events.Event, subQueueSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	go s.run()
	return s
}

func (b *Bus) Subscribe(topic string, handler events.Handler) events.Subscription {
	s := b.newSubscription(topic, handler)

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]*subscription)
	}
	b.subs[topic][s.id] = s
	handlerCount := len(b.subs[topic])
	b.mu.Unlock()

	b.logger.Debug("Subscribed to topic", "topic", topic, "handler_count", handlerCount)

	return s
}

func (b *Bus) SubscribeAll(handler events.Handler) events.Subscription {
	s := b.newSubscription("", handler)

	b.mu.Lock()
	b.globalSubs[s.id] = s
	count := len(b.globalSubs)
	b.mu.Unlock()

	b.logger.Debug("Subscribed to all topics", "global_subscriber_count", count)

	return s
}

func (b *Bus) remove(s *subscription) {
	b.mu.Lock()
	if s.topic == "" {
		delete(b.globalSubs, s.id)
	} else if topicSubs, ok := b.subs[s.topic]; ok {
		delete(topicSubs, s.id)
		if len(topicSubs) == 0 {
			delete(b.subs, s.topic)
		}
	}
	b.mu.Unlock()

	s.stop()
}

func (b *Bus) Stats() events.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byTopic := make(map[string]*events.TopicStats, len(b.subs))
	for topic, subs := range b.subs {
		byTopic[topic] = &events.TopicStats{Topic: topic, Subscribers: len(subs)}
	}
	b.perTopic.Range(func(k, v any) bool {
		topic := k.(string)
		ts, ok := byTopic[topic]
		if !ok {
			ts = &events.TopicStats{Topic: topic}
			byTopic[topic] = ts
		}
		ts.Published = v.(*atomic.Uint64).Load()
		return true
	})

	topics := make([]events.TopicStats, 0, len(byTopic))
	for _, ts := range byTopic {
		topics = append(topics, *ts)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].Topic < topics[j].Topic })

	return events.Stats{
		Topics:       topics,
		PublishChLen: len(b.publishCh),
		PublishChCap: cap(b.publishCh),
		Published:    b.published.Load(),
		Delivered:    b.delivered.Load(),
		Dropped:      b.dropped.Load(),
	}
}

func (b *Bus) Close() error {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topicSubs := range b.subs {
		for _, s := range topicSubs {
			s.stop()
		}
	}
	for _, s := range b.globalSubs {
		s.stop()
	}
	return nil
}

var _ events.Bus = (*Bus)(nil)

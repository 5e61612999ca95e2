package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veesix-networks/hotspotd/internal/notify"
	"github.com/veesix-networks/hotspotd/pkg/clock"
	"github.com/veesix-networks/hotspotd/pkg/component"
	"github.com/veesix-networks/hotspotd/pkg/enforcement"
	"github.com/veesix-networks/hotspotd/pkg/events"
	"github.com/veesix-networks/hotspotd/pkg/logger"
	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/radius"
	"github.com/veesix-networks/hotspotd/pkg/store"
)

const (
	DefaultInterval = 15 * time.Minute
	DefaultWorkers  = 8
)

var DefaultThresholds = []int{60, 30, 15, 5}

var ErrTickInProgress = errors.New("monitor: tick already in progress")

// Enforcer removes a user from the access point. *enforcement.Directory
// satisfies it.
type Enforcer interface {
	Disconnect(ctx context.Context, nas, user string) (enforcement.Result, error)
}

type Notifier interface {
	Warn(ctx context.Context, t notify.Target, thresholdMinutes int, remaining time.Duration) error
	Expired(ctx context.Context, t notify.Target) error
}

// Accounting reports a session the monitor closed to the upstream RADIUS
// server.
type Accounting interface {
	AccountingStop(ctx context.Context, s *models.Session, cause radius.TerminateCause) error
}

type Config struct {
	Store      store.SessionStore
	Enforcer   Enforcer
	Notifier   Notifier
	Accounting Accounting
	Bus        events.Bus
	Clock      clock.Clock

	Interval   time.Duration
	Workers    int
	Thresholds []int
	// TickOnStart runs one tick immediately instead of waiting a full
	// interval.
	TickOnStart bool
}

type Component struct {
	*component.Base

	logger *slog.Logger
	cfg    Config

	tickMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

func New(cfg Config) (*Component, error) {
	if cfg.Store == nil || cfg.Enforcer == nil || cfg.Notifier == nil {
		return nil, fmt.Errorf("monitor: store, enforcer and notifier are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if len(cfg.Thresholds) == 0 {
		cfg.Thresholds = DefaultThresholds
	}
	if err := validateThresholds(cfg.Thresholds); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	return &Component{
		Base:   component.NewBase("monitor"),
		logger: logger.Get(logger.Monitor),
		cfg:    cfg,
	}, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting session monitor",
		"interval", c.cfg.Interval,
		"workers", c.cfg.Workers,
		"thresholds", c.cfg.Thresholds)

	ticker := c.cfg.Clock.NewTicker(c.cfg.Interval)
	c.Go(func() {
		defer ticker.Stop()
		if c.cfg.TickOnStart {
			c.runTick()
		}
		for {
			select {
			case <-ticker.C():
				c.runTick()
			case <-c.Ctx.Done():
				return
			}
		}
	})

	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping session monitor")
	c.StopContext()
	return nil
}

func (c *Component) runTick() {
	if err := c.Tick(c.Ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Monitor tick failed", "error", err)
	}
}

// Tick evaluates every active session once. A tick that starts while another
// is still running returns ErrTickInProgress without doing anything.
func (c *Component) Tick(ctx context.Context) error {
	if !c.tickMu.TryLock() {
		c.update(func(s *Stats) { s.SkippedTicks++ })
		c.logger.Warn("Skipping tick, previous tick still running")
		return ErrTickInProgress
	}
	defer c.tickMu.Unlock()

	start := time.Now()
	now := c.cfg.Clock.Now()
	log := logger.Get(logger.MonitorTick)

	sessions, err := c.cfg.Store.ActiveSessions(ctx)
	if err != nil {
		c.update(func(s *Stats) { s.Ticks++ })
		return fmt.Errorf("load active sessions: %w", err)
	}

	log.Debug("Tick started", "active", len(sessions), "now", now)

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)

	for _, sess := range sessions {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := c.evaluate(ctx, sess, now); err != nil {
				c.update(func(s *Stats) { s.Failures++ })
				logger.WithSession(c.logger, logger.SessionAttrs{
					SessionID: sess.ID,
					Username:  sess.Username,
					NAS:       sess.NASID,
				}).Error("Session evaluation failed", "error", err)
			}
			return nil
		})
	}
	g.Wait()

	elapsed := time.Since(start)
	c.update(func(s *Stats) {
		s.Ticks++
		s.SessionsEvaluated += uint64(len(sessions))
		s.ActiveSessions = len(sessions)
		s.LastTick = now
		s.LastTickDuration = elapsed
	})

	log.Debug("Tick finished", "active", len(sessions))
	return ctx.Err()
}

func (c *Component) evaluate(ctx context.Context, s *models.ActiveSession, now time.Time) error {
	remaining := s.Remaining(now)
	if remaining <= 0 || s.OverDataCap() {
		return c.expire(ctx, s, now)
	}

	threshold, ok := stage(c.cfg.Thresholds, c.cfg.Interval, remaining)
	if !ok {
		return nil
	}

	claimed, err := c.cfg.Store.RecordNotification(ctx, s.ID, threshold, now)
	if err != nil {
		return fmt.Errorf("claim %d minute warning: %w", threshold, err)
	}
	if !claimed {
		return nil
	}
	c.update(func(st *Stats) { st.Warnings++ })

	log := c.sessionLogger(s)
	if err := c.cfg.Notifier.Warn(ctx, notify.TargetFor(s), threshold, remaining); err != nil {
		log.Warn("Expiry warning not delivered", "threshold", threshold, "error", err)
		return nil
	}
	log.Info("Expiry warning sent", "threshold", threshold, "remaining", remaining.Round(time.Second))
	return nil
}

// expire notifies, disconnects and closes a session whose plan ran out. The
// session stays open when the access point is unreachable so the next tick
// retries the disconnect.
func (c *Component) expire(ctx context.Context, s *models.ActiveSession, now time.Time) error {
	log := c.sessionLogger(s)

	claimed, err := c.cfg.Store.RecordNotification(ctx, s.ID, models.ExpiryThreshold, now)
	if err != nil {
		return fmt.Errorf("claim expiry notice: %w", err)
	}
	if claimed {
		if err := c.cfg.Notifier.Expired(ctx, notify.TargetFor(s)); err != nil {
			log.Warn("Expiry notice not delivered", "error", err)
		}
	}

	res, err := c.cfg.Enforcer.Disconnect(ctx, s.NASID, s.Username)
	switch {
	case err != nil && errors.Is(err, enforcement.ErrUnavailable):
		return fmt.Errorf("disconnect: %w", err)
	case err != nil:
		log.Warn("Disconnect failed, closing session anyway", "error", err)
	case res.NotFound():
		log.Debug("User already gone from access point")
	case !res.Success:
		log.Warn("Access point refused disconnect, closing session anyway", "reason", res.Reason)
	}

	closed, err := c.cfg.Store.CloseSession(ctx, s.ID, now, models.EndReasonExpired)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	if !closed {
		log.Debug("Session closed concurrently")
		return nil
	}
	c.update(func(st *Stats) { st.Expiries++ })

	reason := "plan duration exceeded"
	if s.OverDataCap() {
		reason = "data cap reached"
	}
	log.Info("Session expired", "reason", reason, "elapsed", s.Elapsed(now).Round(time.Second))

	ended := s.Session
	ended.EndedAt = &now
	ended.EndReason = models.EndReasonExpired

	if c.cfg.Bus != nil {
		c.cfg.Bus.Publish(events.TopicSessionLifecycle, events.NewEvent("monitor", events.SessionLifecycleEvent{
			SessionID: s.ID,
			UserID:    s.UserID,
			Username:  s.Username,
			NAS:       s.NASID,
			State:     events.SessionEnded,
			Reason:    models.EndReasonExpired,
		}))
	}

	if c.cfg.Accounting != nil {
		if err := c.cfg.Accounting.AccountingStop(ctx, &ended, radius.TerminateSessionTimeout); err != nil {
			log.Warn("Upstream Accounting-Stop failed", "error", err)
		}
	}

	return nil
}

func (c *Component) sessionLogger(s *models.ActiveSession) *slog.Logger {
	return logger.WithSession(c.logger, logger.SessionAttrs{
		SessionID:     s.ID,
		AcctSessionID: s.AcctSessionID,
		UserID:        s.UserID,
		Username:      s.Username,
		NAS:           s.NASID,
		Plan:          s.PlanName,
	})
}

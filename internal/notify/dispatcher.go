package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veesix-networks/hotspotd/pkg/clock"
	"github.com/veesix-networks/hotspotd/pkg/enforcement"
	"github.com/veesix-networks/hotspotd/pkg/logger"
	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/push"
)

// ErrNotDelivered is returned when the access point answered but did not
// show the message, usually because the user is no longer connected.
var ErrNotDelivered = errors.New("notify: message not delivered")

// Messenger is the in-band half of a notification. *enforcement.Directory
// satisfies it.
type Messenger interface {
	SendMessage(ctx context.Context, nas, user, text string) (enforcement.Result, error)
	Broadcast(ctx context.Context, nas, text string) (enforcement.BroadcastResult, error)
}

// Target identifies who receives a notification. Username is the identity
// known to the access point, UserID the one push subscribers register with.
type Target struct {
	SessionID string
	UserID    string
	Username  string
	NAS       string
	PlanName  string
}

func TargetFor(s *models.ActiveSession) Target {
	return Target{
		SessionID: s.ID,
		UserID:    s.UserID,
		Username:  s.Username,
		NAS:       s.NASID,
		PlanName:  s.PlanName,
	}
}

type Dispatcher struct {
	messenger Messenger
	push      push.Channel
	clock     clock.Clock
	logger    *slog.Logger

	statsMu sync.Mutex
	stats   Stats
}

func New(messenger Messenger, ch push.Channel, clk clock.Clock) *Dispatcher {
	if ch == nil {
		ch = push.Discard
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Dispatcher{
		messenger: messenger,
		push:      ch,
		clock:     clk,
		logger:    logger.Get(logger.Notify),
	}
}

// Warn tells the user their plan runs out soon. thresholdMinutes is the ladder
// step that fired; remaining is the exact time left.
func (d *Dispatcher) Warn(ctx context.Context, t Target, thresholdMinutes int, remaining time.Duration) error {
	text := fmt.Sprintf("WARNING: Your %s plan expires in %s! Please renew to continue enjoying internet access.",
		planLabel(t.PlanName), thresholdLabel(thresholdMinutes))

	d.push.Notify(t.UserID, models.Notification{
		Kind:             models.NotificationWarning,
		Title:            "Plan expiring soon",
		Message:          text,
		SessionID:        t.SessionID,
		NAS:              t.NAS,
		ThresholdMinutes: thresholdMinutes,
		RemainingMinutes: remainingMinutes(remaining),
		Timestamp:        d.clock.Now(),
	})

	err := d.send(ctx, t, text)
	d.record(models.NotificationWarning, err)
	return err
}

func (d *Dispatcher) Expired(ctx context.Context, t Target) error {
	text := fmt.Sprintf("Your %s plan has expired! Please purchase a new plan to continue using the internet.",
		planLabel(t.PlanName))

	d.push.Notify(t.UserID, models.Notification{
		Kind:      models.NotificationExpired,
		Title:     "Plan expired",
		Message:   text,
		SessionID: t.SessionID,
		NAS:       t.NAS,
		Timestamp: d.clock.Now(),
	})

	err := d.send(ctx, t, text)
	d.record(models.NotificationExpired, err)
	return err
}

func (d *Dispatcher) Custom(ctx context.Context, t Target, text string, kind models.NotificationKind) error {
	if kind == "" {
		kind = models.NotificationInfo
	}

	d.push.Notify(t.UserID, models.Notification{
		Kind:      kind,
		Message:   text,
		SessionID: t.SessionID,
		NAS:       t.NAS,
		Timestamp: d.clock.Now(),
	})

	err := d.send(ctx, t, text)
	d.record(models.NotificationCustom, err)
	return err
}

// Broadcast shows text to every user connected to nas and pushes it to all
// subscribers of that NAS.
func (d *Dispatcher) Broadcast(ctx context.Context, nas, text string) (enforcement.BroadcastResult, error) {
	d.push.Broadcast(models.Notification{
		Kind:      models.NotificationBroadcast,
		Message:   text,
		NAS:       nas,
		Timestamp: d.clock.Now(),
	})

	res, err := d.messenger.Broadcast(ctx, nas, text)
	if err != nil {
		err = fmt.Errorf("broadcast on %s: %w", nas, err)
	}
	d.record(models.NotificationBroadcast, err)
	if err != nil {
		return enforcement.BroadcastResult{}, err
	}

	d.logger.Info("Broadcast sent", "nas", nas, "notified", res.NotifiedCount)
	return res, nil
}

func (d *Dispatcher) send(ctx context.Context, t Target, text string) error {
	res, err := d.messenger.SendMessage(ctx, t.NAS, t.Username, text)
	if err != nil {
		return fmt.Errorf("send message to %s on %s: %w", t.Username, t.NAS, err)
	}
	if !res.Success {
		return fmt.Errorf("%w: %s on %s: %s", ErrNotDelivered, t.Username, t.NAS, res.Reason)
	}
	return nil
}

func planLabel(name string) string {
	if name == "" {
		return "internet"
	}
	return name
}

func thresholdLabel(minutes int) string {
	switch {
	case minutes == 60:
		return "1 hour"
	case minutes > 60 && minutes%60 == 0:
		return fmt.Sprintf("%d hours", minutes/60)
	case minutes == 1:
		return "1 minute"
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}

// remainingMinutes rounds up so a user with 30s left is told 1 minute.
func remainingMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Minute - 1) / time.Minute)
}

package aaa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veesix-networks/hotspotd/pkg/clock"
	"github.com/veesix-networks/hotspotd/pkg/component"
	"github.com/veesix-networks/hotspotd/pkg/enforcement"
	"github.com/veesix-networks/hotspotd/pkg/events"
	"github.com/veesix-networks/hotspotd/pkg/logger"
	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/radius"
	"github.com/veesix-networks/hotspotd/pkg/store"
)

const DefaultInterimInterval = 5 * time.Minute

var (
	ErrNoServer   = errors.New("aaa: no RADIUS server configured")
	ErrUnknownNAS = errors.New("aaa: unknown NAS")
)

// Authenticator checks portal logins against the RADIUS server.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string, nasAddress net.IP) (*radius.AuthResult, error)
}

// Upstream is the RADIUS client used for logins and accounting.
// *radius.Client satisfies it.
type Upstream interface {
	Authenticator
	AccountingStart(ctx context.Context, s *radius.SessionData) (*radius.AccountingResult, error)
	AccountingUpdate(ctx context.Context, s *radius.SessionData) (*radius.AccountingResult, error)
	AccountingStop(ctx context.Context, s *radius.SessionData) (*radius.AccountingResult, error)
}

// Lister reads the live session table of an access point.
// *enforcement.Directory satisfies it.
type Lister interface {
	Names() []string
	ListActiveSessions(ctx context.Context, nas string) ([]enforcement.ActiveSession, error)
}

type Config struct {
	Store store.SessionStore
	// Upstream may be nil; accounting then stays local.
	Upstream Upstream
	// Auth checks logins and defaults to Upstream. Without either, logins
	// fail closed.
	Auth   Authenticator
	Lister Lister
	Bus    events.Bus
	Clock  clock.Clock

	// NASAddresses maps NAS names to the address sent as NAS-IP-Address.
	NASAddresses map[string]net.IP

	// InterimInterval is how often counters are pulled from the access
	// points. Zero disables the sync loop.
	InterimInterval time.Duration
}

// Component owns the session lifecycle: it records sessions in the store,
// mirrors them to the upstream RADIUS accounting server and keeps their
// counters in sync with the access points.
type Component struct {
	*component.Base

	logger *slog.Logger
	cfg    Config

	syncMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

func New(cfg Config) (*Component, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("aaa: store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Auth == nil && cfg.Upstream != nil {
		cfg.Auth = cfg.Upstream
	}

	return &Component{
		Base:   component.NewBase("aaa"),
		logger: logger.Get(logger.AAA),
		cfg:    cfg,
	}, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting AAA component", "upstream", c.cfg.Upstream != nil, "interim_interval", c.cfg.InterimInterval)

	if c.cfg.InterimInterval > 0 && c.cfg.Lister != nil {
		ticker := c.cfg.Clock.NewTicker(c.cfg.InterimInterval)
		c.Go(func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C():
					c.SyncCounters(c.Ctx)
				case <-c.Ctx.Done():
					return
				}
			}
		})
	}

	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping AAA component")
	c.StopContext()
	return nil
}

func (c *Component) nasIP(nas string) net.IP {
	return c.cfg.NASAddresses[nas]
}

// Login checks credentials against the RADIUS server. The result is never nil
// and Accepted is false on every error, so a timeout denies access.
func (c *Component) Login(ctx context.Context, username, password, nas string) (*radius.AuthResult, error) {
	denied := &radius.AuthResult{Accepted: false}

	if c.cfg.Auth == nil {
		c.update(func(s *Stats) { s.LoginErrors++ })
		return denied, ErrNoServer
	}
	ip := c.nasIP(nas)
	if ip == nil {
		c.update(func(s *Stats) { s.LoginErrors++ })
		return denied, fmt.Errorf("%w: %s", ErrUnknownNAS, nas)
	}

	res, err := c.cfg.Auth.Authenticate(ctx, username, password, ip)
	if err != nil {
		c.update(func(s *Stats) { s.LoginErrors++ })
		c.logger.Warn("Login failed", "username", username, "nas", nas, "error", err)
		return denied, fmt.Errorf("authenticate %s: %w", username, err)
	}
	if res == nil || !res.Accepted {
		c.update(func(s *Stats) { s.LoginRejects++ })
		c.logger.Info("Login rejected", "username", username, "nas", nas)
		if res == nil {
			res = denied
		}
		return res, nil
	}

	c.update(func(s *Stats) { s.LoginAccepts++ })
	c.logger.Info("Login accepted", "username", username, "nas", nas)
	return res, nil
}

type StartRequest struct {
	UserID        string
	Username      string
	NAS           string
	PlanID        string
	AcctSessionID string
	FramedIP      net.IP
	StartedAt     time.Time
}

// StartSession records a new session and reports it upstream. A user can only
// have one open session per NAS; a second start fails with
// store.ErrActiveSessionExists.
func (c *Component) StartSession(ctx context.Context, req StartRequest) (*models.Session, error) {
	startedAt := req.StartedAt
	if startedAt.IsZero() {
		startedAt = c.cfg.Clock.Now()
	}
	acctID := req.AcctSessionID
	if acctID == "" {
		acctID = uuid.New().String()
	}
	userID := req.UserID
	if userID == "" {
		userID = req.Username
	}

	s := &models.Session{
		ID:            uuid.New().String(),
		UserID:        userID,
		Username:      req.Username,
		NASID:         req.NAS,
		PlanID:        req.PlanID,
		AcctSessionID: acctID,
		FramedIP:      req.FramedIP,
		StartedAt:     startedAt,
	}

	if err := c.cfg.Store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	log := c.sessionLogger(s)
	log.Info("Session started")
	c.update(func(st *Stats) { st.SessionsStarted++ })

	c.snapshot(ctx, s, models.AcctStatusStart, startedAt)
	c.publish(s, events.SessionStarted, models.EndReasonNone)

	if c.cfg.Upstream != nil {
		if _, err := c.cfg.Upstream.AccountingStart(ctx, c.sessionData(s, startedAt, 0)); err != nil {
			c.update(func(st *Stats) { st.AccountingErrors++ })
			log.Warn("Upstream Accounting-Start failed", "error", err)
		}
	}

	return s, nil
}

// UpdateSession applies new counters to an open session. Counters never go
// backwards.
func (c *Component) UpdateSession(ctx context.Context, id string, inputOctets, outputOctets uint64) (*models.Session, error) {
	if err := c.cfg.Store.UpdateCounters(ctx, id, inputOctets, outputOctets); err != nil {
		return nil, fmt.Errorf("update counters: %w", err)
	}
	s, err := c.cfg.Store.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}

	now := c.cfg.Clock.Now()
	c.snapshot(ctx, s, models.AcctStatusInterim, now)
	c.update(func(st *Stats) { st.SessionsUpdated++ })

	if c.cfg.Upstream != nil && s.Active() {
		if _, err := c.cfg.Upstream.AccountingUpdate(ctx, c.sessionData(s, now, 0)); err != nil {
			c.update(func(st *Stats) { st.AccountingErrors++ })
			c.sessionLogger(s).Warn("Upstream Interim-Update failed", "error", err)
		}
	}
	return s, nil
}

// StopSession closes an open session. It reports false when the session was
// already closed, in which case nothing is sent upstream.
func (c *Component) StopSession(ctx context.Context, id string, reason models.EndReason) (bool, error) {
	if !reason.Valid() {
		return false, fmt.Errorf("invalid end reason %q", reason)
	}

	now := c.cfg.Clock.Now()
	closed, err := c.cfg.Store.CloseSession(ctx, id, now, reason)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	if !closed {
		return false, nil
	}

	s, err := c.cfg.Store.GetSession(ctx, id)
	if err != nil {
		return true, fmt.Errorf("reload session: %w", err)
	}

	c.sessionLogger(s).Info("Session stopped", "reason", reason, "elapsed", s.Elapsed(now).Round(time.Second))
	c.update(func(st *Stats) { st.SessionsStopped++ })

	c.snapshot(ctx, s, models.AcctStatusStop, now)
	c.publish(s, events.SessionEnded, reason)

	if err := c.AccountingStop(ctx, s, TerminateCauseFor(reason)); err != nil {
		c.sessionLogger(s).Warn("Upstream Accounting-Stop failed", "error", err)
	}
	return true, nil
}

// AccountingStop reports a closed session upstream. It does nothing without an
// upstream server.
func (c *Component) AccountingStop(ctx context.Context, s *models.Session, cause radius.TerminateCause) error {
	if c.cfg.Upstream == nil {
		return nil
	}
	data := c.sessionData(s, c.cfg.Clock.Now(), cause)
	if _, err := c.cfg.Upstream.AccountingStop(ctx, data); err != nil {
		c.update(func(st *Stats) { st.AccountingErrors++ })
		return err
	}
	return nil
}

func TerminateCauseFor(reason models.EndReason) radius.TerminateCause {
	switch reason {
	case models.EndReasonExpired:
		return radius.TerminateSessionTimeout
	case models.EndReasonTerminated:
		return radius.TerminateAdminReset
	default:
		return radius.TerminateUserRequest
	}
}

func (c *Component) sessionData(s *models.Session, now time.Time, cause radius.TerminateCause) *radius.SessionData {
	return &radius.SessionData{
		Username:       s.Username,
		AcctSessionID:  s.AcctSessionID,
		NASAddress:     c.nasIP(s.NASID),
		FramedIP:       s.FramedIP,
		SessionTime:    s.Elapsed(now),
		InputOctets:    s.InputOctets,
		OutputOctets:   s.OutputOctets,
		TerminateCause: cause,
	}
}

func (c *Component) snapshot(ctx context.Context, s *models.Session, status models.AcctStatus, at time.Time) {
	err := c.cfg.Store.AppendSnapshot(ctx, &models.AccountingSnapshot{
		SessionID:    s.ID,
		RecordedAt:   at,
		Status:       status,
		SessionTime:  s.Elapsed(at),
		InputOctets:  s.InputOctets,
		OutputOctets: s.OutputOctets,
	})
	if err != nil {
		c.sessionLogger(s).Warn("Failed to record accounting snapshot", "status", status, "error", err)
	}
}

func (c *Component) publish(s *models.Session, state events.SessionState, reason models.EndReason) {
	if c.cfg.Bus == nil {
		return
	}
	c.cfg.Bus.Publish(events.TopicSessionLifecycle, events.NewEvent("aaa", events.SessionLifecycleEvent{
		SessionID: s.ID,
		UserID:    s.UserID,
		Username:  s.Username,
		NAS:       s.NASID,
		State:     state,
		Reason:    reason,
	}))
}

func (c *Component) sessionLogger(s *models.Session) *slog.Logger {
	return logger.WithSession(c.logger, logger.SessionAttrs{
		SessionID:     s.ID,
		AcctSessionID: s.AcctSessionID,
		UserID:        s.UserID,
		Username:      s.Username,
		NAS:           s.NASID,
	})
}

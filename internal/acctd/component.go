package acctd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"

	"github.com/veesix-networks/hotspotd/internal/aaa"
	"github.com/veesix-networks/hotspotd/pkg/component"
	"github.com/veesix-networks/hotspotd/pkg/logger"
	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/store"
)

const DefaultListen = ":1813"

var ErrUnknownNAS = errors.New("acctd: request from unknown NAS")

// Sessions applies accounting to the session store. *aaa.Component
// satisfies it.
type Sessions interface {
	StartSession(ctx context.Context, req aaa.StartRequest) (*models.Session, error)
	UpdateSession(ctx context.Context, id string, inputOctets, outputOctets uint64) (*models.Session, error)
	StopSession(ctx context.Context, id string, reason models.EndReason) (bool, error)
}

type Lookup interface {
	FindActive(ctx context.Context, userID, nasID string) (*models.Session, error)
	FindByAcctSessionID(ctx context.Context, nasID, acctSessionID string) (*models.Session, error)
	FindActiveByAcctSessionID(ctx context.Context, nasID, acctSessionID string) (*models.Session, error)
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	GetPlanByName(ctx context.Context, name string) (*models.Plan, error)
}

type Config struct {
	Listen   string
	NAS      []models.NAS
	Sessions Sessions
	Lookup   Lookup
}

// Component is the accounting listener the access points send
// Accounting-Request packets to. Start opens a session, Interim-Update moves
// its counters and Stop closes it.
type Component struct {
	*component.Base

	logger *slog.Logger
	cfg    Config
	nas    map[string]models.NAS

	server *radius.PacketServer
	conn   net.PacketConn

	statsMu sync.Mutex
	stats   Stats
}

func New(cfg Config) (*Component, error) {
	if cfg.Sessions == nil || cfg.Lookup == nil {
		return nil, fmt.Errorf("acctd: sessions and lookup are required")
	}
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}

	byAddr := make(map[string]models.NAS, len(cfg.NAS))
	for _, n := range cfg.NAS {
		if n.Address == nil {
			return nil, fmt.Errorf("acctd: NAS %s has no address", n.Name)
		}
		byAddr[n.Address.String()] = n
	}

	c := &Component{
		Base:   component.NewBase("acctd"),
		logger: logger.Get(logger.Acctd),
		cfg:    cfg,
		nas:    byAddr,
	}
	c.server = &radius.PacketServer{
		Handler:      radius.HandlerFunc(c.serveRADIUS),
		SecretSource: c,
	}
	return c, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)

	conn, err := net.ListenPacket("udp", c.cfg.Listen)
	if err != nil {
		return fmt.Errorf("acctd: listen %s: %w", c.cfg.Listen, err)
	}
	c.conn = conn
	c.logger.Info("Accounting listener started", "addr", conn.LocalAddr().String(), "nas", len(c.nas))

	c.Go(func() {
		if err := c.server.Serve(conn); err != nil && !errors.Is(err, radius.ErrServerShutdown) {
			c.logger.Error("Accounting listener stopped", "error", err)
		}
	})
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping accounting listener")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c.conn != nil {
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			c.logger.Warn("Accounting listener shutdown", "error", err)
		}
	}

	c.StopContext()
	return nil
}

// Addr is the bound listen address, valid after Start.
func (c *Component) Addr() net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.LocalAddr()
}

func (c *Component) lookupNAS(addr net.Addr) (models.NAS, bool) {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return models.NAS{}, false
	}
	n, ok := c.nas[host]
	return n, ok
}

// RADIUSSecret implements radius.SecretSource. Packets from addresses that
// are not configured are dropped.
func (c *Component) RADIUSSecret(ctx context.Context, remoteAddr net.Addr) ([]byte, error) {
	n, ok := c.lookupNAS(remoteAddr)
	if !ok {
		c.update(func(s *Stats) { s.UnknownNAS++ })
		c.logger.Warn("Dropping accounting from unknown NAS", "remote", remoteAddr.String())
		return nil, fmt.Errorf("%w: %s", ErrUnknownNAS, remoteAddr)
	}
	return []byte(n.Secret), nil
}

func (c *Component) serveRADIUS(w radius.ResponseWriter, r *radius.Request) {
	if r.Code != radius.CodeAccountingRequest {
		c.logger.Debug("Ignoring non-accounting packet", "code", r.Code.String(), "remote", r.RemoteAddr.String())
		return
	}

	n, ok := c.lookupNAS(r.RemoteAddr)
	if !ok {
		return
	}

	rec := parseRecord(r.Packet)
	log := logger.WithSession(c.logger, logger.SessionAttrs{
		AcctSessionID: rec.AcctSessionID,
		Username:      rec.Username,
		NAS:           n.Name,
	})

	ctx := r.Context()
	var err error
	switch rec.Status {
	case rfc2866.AcctStatusType_Value_Start:
		err = c.handleStart(ctx, n, rec, log)
	case rfc2866.AcctStatusType_Value_InterimUpdate:
		err = c.handleInterim(ctx, n, rec, log)
	case rfc2866.AcctStatusType_Value_Stop:
		err = c.handleStop(ctx, n, rec, log)
	case rfc2866.AcctStatusType_Value_AccountingOn, rfc2866.AcctStatusType_Value_AccountingOff:
		log.Info("NAS accounting state changed", "status", rec.Status.String())
	default:
		log.Warn("Unsupported Acct-Status-Type", "status", uint32(rec.Status))
	}

	if err != nil {
		c.update(func(s *Stats) { s.Errors++ })
		log.Error("Accounting request not recorded", "status", rec.Status.String(), "error", err)
		// No response, so the NAS retransmits.
		return
	}

	c.update(func(s *Stats) { s.count(rec.Status) })
	if err := w.Write(r.Response(radius.CodeAccountingResponse)); err != nil {
		log.Warn("Failed to send Accounting-Response", "error", err)
	}
}

func (c *Component) handleStart(ctx context.Context, n models.NAS, rec record, log *slog.Logger) error {
	if rec.Username == "" || rec.AcctSessionID == "" {
		return fmt.Errorf("start without User-Name or Acct-Session-Id")
	}

	// NAS devices reuse Acct-Session-Id values, so only a live session for
	// the same user makes this Start a retransmission.
	existing, err := c.cfg.Lookup.FindActiveByAcctSessionID(ctx, n.Name, rec.AcctSessionID)
	switch {
	case err == nil && existing.Username == rec.Username:
		log.Debug("Duplicate Accounting-Start")
		return nil
	case err == nil:
		log.Warn("Closing session whose Acct-Session-Id was reassigned",
			"stale_session_id", existing.ID, "stale_username", existing.Username)
		if _, err := c.cfg.Sessions.StopSession(ctx, existing.ID, models.EndReasonTerminated); err != nil {
			return err
		}
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	plan, err := c.resolvePlan(ctx, n, rec.Class)
	if err != nil {
		return err
	}

	req := aaa.StartRequest{
		UserID:        rec.Username,
		Username:      rec.Username,
		NAS:           n.Name,
		PlanID:        plan.ID,
		AcctSessionID: rec.AcctSessionID,
		FramedIP:      rec.FramedIP,
	}
	if rec.SessionTime > 0 {
		req.StartedAt = time.Now().Add(-rec.SessionTime)
	}

	_, err = c.cfg.Sessions.StartSession(ctx, req)
	if errors.Is(err, store.ErrActiveSessionExists) {
		// The NAS lost the previous session without a Stop.
		stale, ferr := c.cfg.Lookup.FindActive(ctx, rec.Username, n.Name)
		if ferr != nil {
			return ferr
		}
		log.Warn("Closing stale session superseded by a new start", "stale_session_id", stale.ID)
		if _, err := c.cfg.Sessions.StopSession(ctx, stale.ID, models.EndReasonTerminated); err != nil {
			return err
		}
		_, err = c.cfg.Sessions.StartSession(ctx, req)
	}
	return err
}

func (c *Component) handleInterim(ctx context.Context, n models.NAS, rec record, log *slog.Logger) error {
	s, err := c.cfg.Lookup.FindActiveByAcctSessionID(ctx, n.Name, rec.AcctSessionID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !sameUser(s, rec)) {
		log.Warn("Interim-Update for unknown session")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = c.cfg.Sessions.UpdateSession(ctx, s.ID, rec.InputOctets, rec.OutputOctets)
	return err
}

func (c *Component) handleStop(ctx context.Context, n models.NAS, rec record, log *slog.Logger) error {
	s, err := c.cfg.Lookup.FindActiveByAcctSessionID(ctx, n.Name, rec.AcctSessionID)
	if err == nil && !sameUser(s, rec) {
		log.Warn("Accounting-Stop for a session whose Acct-Session-Id was reassigned", "active_username", s.Username)
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		// A late Stop lands on the newest closed row for the id.
		s, err = c.cfg.Lookup.FindByAcctSessionID(ctx, n.Name, rec.AcctSessionID)
	}
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("Accounting-Stop for unknown session")
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := c.cfg.Sessions.UpdateSession(ctx, s.ID, rec.InputOctets, rec.OutputOctets); err != nil {
		return err
	}
	if !s.Active() {
		return nil
	}
	_, err = c.cfg.Sessions.StopSession(ctx, s.ID, endReason(rec.TerminateCause))
	return err
}

// sameUser is true when rec omits User-Name or names the session's user.
func sameUser(s *models.Session, rec record) bool {
	return rec.Username == "" || rec.Username == s.Username
}

// resolvePlan picks the plan named by the Class attribute the RADIUS server
// returned at login, falling back to the NAS default plan.
func (c *Component) resolvePlan(ctx context.Context, n models.NAS, class string) (*models.Plan, error) {
	for _, name := range []string{class, n.DefaultPlan} {
		if name == "" {
			continue
		}
		p, err := c.cfg.Lookup.GetPlanByName(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			p, err = c.cfg.Lookup.GetPlan(ctx, name)
		}
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("no plan for session (class %q, NAS default %q)", class, n.DefaultPlan)
}

func endReason(cause rfc2866.AcctTerminateCause) models.EndReason {
	switch cause {
	case rfc2866.AcctTerminateCause_Value_SessionTimeout:
		return models.EndReasonExpired
	case rfc2866.AcctTerminateCause_Value_AdminReset,
		rfc2866.AcctTerminateCause_Value_AdminReboot,
		rfc2866.AcctTerminateCause_Value_NASRequest,
		rfc2866.AcctTerminateCause_Value_NASReboot,
		rfc2866.AcctTerminateCause_Value_NASError:
		return models.EndReasonTerminated
	default:
		return models.EndReasonNormal
	}
}

type record struct {
	Status         rfc2866.AcctStatusType
	Username       string
	AcctSessionID  string
	FramedIP       net.IP
	Class          string
	SessionTime    time.Duration
	InputOctets    uint64
	OutputOctets   uint64
	TerminateCause rfc2866.AcctTerminateCause
}

func parseRecord(p *radius.Packet) record {
	rec := record{
		Status:         rfc2866.AcctStatusType_Get(p),
		Username:       rfc2865.UserName_GetString(p),
		AcctSessionID:  rfc2866.AcctSessionID_GetString(p),
		Class:          string(rfc2865.Class_Get(p)),
		SessionTime:    time.Duration(rfc2866.AcctSessionTime_Get(p)) * time.Second,
		InputOctets:    uint64(rfc2869.AcctInputGigawords_Get(p))<<32 | uint64(rfc2866.AcctInputOctets_Get(p)),
		OutputOctets:   uint64(rfc2869.AcctOutputGigawords_Get(p))<<32 | uint64(rfc2866.AcctOutputOctets_Get(p)),
		TerminateCause: rfc2866.AcctTerminateCause_Get(p),
	}
	if ip := rfc2865.FramedIPAddress_Get(p); ip != nil && !ip.IsUnspecified() {
		rec.FramedIP = ip
	}
	return rec
}

package radius

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	layeh "layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"

	"github.com/veesix-networks/hotspotd/pkg/logger"
)

const (
	DefaultAuthPort = 1812
	DefaultAcctPort = 1813
	DefaultCoAPort  = 3799
	DefaultTimeout  = 5 * time.Second
	DefaultRetries  = 3
)

type ClientConfig struct {
	Server   string
	AuthPort int
	AcctPort int
	Secret   string
	// Secrets overrides Secret per NAS IP address.
	Secrets map[string]string
	NASIP   net.IP
	Timeout time.Duration
	Retries int
}

type Client struct {
	cfg    ClientConfig
	stats  *Stats
	logger *slog.Logger
	dialer net.Dialer
	nextID atomic.Uint32
}

type AuthResult struct {
	Accepted       bool
	Code           Code
	ReplyMessage   string
	SessionTimeout time.Duration
	Class          []byte
	// Reply is the verified Access-Accept, Access-Reject or
	// Access-Challenge, nil when no reply arrived.
	Reply *Packet
}

type SessionData struct {
	Username       string
	AcctSessionID  string
	NASAddress     net.IP
	FramedIP       net.IP
	SessionTime    time.Duration
	InputOctets    uint64
	OutputOctets   uint64
	TerminateCause TerminateCause
	Class          []byte
}

type AccountingResult struct {
	Code  Code
	Reply *Packet
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.AuthPort == 0 {
		cfg.AuthPort = DefaultAuthPort
	}
	if cfg.AcctPort == 0 {
		cfg.AcctPort = DefaultAcctPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}

	c := &Client{
		cfg:    cfg,
		stats:  NewStats(),
		logger: logger.Get(logger.RADIUS),
	}

	var seed [1]byte
	rand.Read(seed[:])
	c.nextID.Store(uint32(seed[0]))
	return c
}

func (c *Client) Stats() *Stats {
	return c.stats
}

func (c *Client) secretFor(nas net.IP) []byte {
	if nas != nil {
		if s, ok := c.cfg.Secrets[nas.String()]; ok {
			return []byte(s)
		}
	}
	return []byte(c.cfg.Secret)
}

func (c *Client) nasIP(nas net.IP) net.IP {
	if nas != nil {
		return nas
	}
	return c.cfg.NASIP
}

// Authenticate sends an Access-Request for a PAP login. AuthResult.Accepted is
// true only for a verified Access-Accept; every error path returns a result
// with Accepted false so callers that ignore the error still deny.
func (c *Client) Authenticate(ctx context.Context, username, password string, nasAddress net.IP) (*AuthResult, error) {
	result := &AuthResult{}
	addr := net.JoinHostPort(c.cfg.Server, strconv.Itoa(c.cfg.AuthPort))
	secret := c.secretFor(nasAddress)
	nas := c.nasIP(nasAddress)

	if len(password) > MaxPasswordLen {
		return result, ErrPasswordTooLong
	}
	if len(username) > MaxAttributeLen {
		return result, fmt.Errorf("User-Name: %w", ErrAttributeTooLong)
	}

	// Each attempt gets a fresh request authenticator, so the password is
	// hidden again every time.
	build := func(id byte) (*Packet, error) {
		p := layeh.New(CodeAccessRequest, secret)
		p.Identifier = id

		if err := rfc2865.UserName_SetString(p, username); err != nil {
			return nil, err
		}
		if err := rfc2865.UserPassword_SetString(p, password); err != nil {
			return nil, err
		}
		if nas != nil {
			if err := rfc2865.NASIPAddress_Set(p, nas); err != nil {
				return nil, err
			}
		}
		rfc2865.ServiceType_Set(p, rfc2865.ServiceType_Value_FramedUser)
		rfc2865.FramedProtocol_Set(p, rfc2865.FramedProtocol_Value_PPP)
		return p, nil
	}

	resp, err := c.roundTrip(ctx, addr, CodeAccessRequest, build)
	if err != nil {
		return result, err
	}

	result.Code = resp.Code
	result.Reply = resp
	result.ReplyMessage = rfc2865.ReplyMessage_GetString(resp)
	result.Class = rfc2865.Class_Get(resp)
	if st, err := rfc2865.SessionTimeout_Lookup(resp); err == nil {
		result.SessionTimeout = time.Duration(st) * time.Second
	}

	switch resp.Code {
	case CodeAccessAccept:
		result.Accepted = true
		c.stats.record(addr, CodeAccessRequest, outcomeResponse, nil)
	case CodeAccessReject, CodeAccessChallenge:
		c.stats.record(addr, CodeAccessRequest, outcomeReject, nil)
	default:
		err := fmt.Errorf("%w: %s in reply to Access-Request", ErrUnexpectedCode, resp.Code)
		c.stats.record(addr, CodeAccessRequest, outcomeError, err)
		return result, err
	}

	c.logger.Debug("Access-Request answered", "username", username, "code", resp.Code.String())
	return result, nil
}

func (c *Client) AccountingStart(ctx context.Context, s *SessionData) (*AccountingResult, error) {
	return c.account(ctx, AcctStatusStart, s)
}

func (c *Client) AccountingUpdate(ctx context.Context, s *SessionData) (*AccountingResult, error) {
	return c.account(ctx, AcctStatusInterim, s)
}

func (c *Client) AccountingStop(ctx context.Context, s *SessionData) (*AccountingResult, error) {
	return c.account(ctx, AcctStatusStop, s)
}

func (c *Client) account(ctx context.Context, status AcctStatus, s *SessionData) (*AccountingResult, error) {
	addr := net.JoinHostPort(c.cfg.Server, strconv.Itoa(c.cfg.AcctPort))

	req, err := buildAccounting(status, s, c.nasIP(s.NASAddress), c.secretFor(s.NASAddress))
	if err != nil {
		return nil, err
	}

	resp, err := c.roundTrip(ctx, addr, CodeAccountingRequest, reuse(req))
	if err != nil {
		return nil, err
	}
	if resp.Code != CodeAccountingResponse {
		err := fmt.Errorf("%w: %s in reply to Accounting-Request", ErrUnexpectedCode, resp.Code)
		c.stats.record(addr, CodeAccountingRequest, outcomeError, err)
		return nil, err
	}
	c.stats.record(addr, CodeAccountingRequest, outcomeResponse, nil)

	return &AccountingResult{Code: resp.Code, Reply: resp}, nil
}

func buildAccounting(status AcctStatus, s *SessionData, nas net.IP, secret []byte) (*Packet, error) {
	p := layeh.New(CodeAccountingRequest, secret)
	rfc2866.AcctStatusType_Set(p, status)
	if err := rfc2866.AcctSessionID_SetString(p, s.AcctSessionID); err != nil {
		return nil, fmt.Errorf("Acct-Session-Id: %w", ErrAttributeTooLong)
	}
	if err := rfc2865.UserName_SetString(p, s.Username); err != nil {
		return nil, fmt.Errorf("User-Name: %w", ErrAttributeTooLong)
	}
	if nas != nil {
		if err := rfc2865.NASIPAddress_Set(p, nas); err != nil {
			return nil, err
		}
	}
	rfc2865.ServiceType_Set(p, rfc2865.ServiceType_Value_FramedUser)
	rfc2865.FramedProtocol_Set(p, rfc2865.FramedProtocol_Value_PPP)
	if s.FramedIP != nil {
		if err := rfc2865.FramedIPAddress_Set(p, s.FramedIP); err != nil {
			return nil, err
		}
	}
	if len(s.Class) > 0 {
		if err := rfc2865.Class_Set(p, s.Class); err != nil {
			return nil, fmt.Errorf("Class: %w", ErrAttributeTooLong)
		}
	}

	if status == AcctStatusStart {
		return p, nil
	}

	rfc2866.AcctSessionTime_Set(p, rfc2866.AcctSessionTime(s.SessionTime/time.Second))
	rfc2866.AcctInputOctets_Set(p, rfc2866.AcctInputOctets(uint32(s.InputOctets)))
	rfc2866.AcctOutputOctets_Set(p, rfc2866.AcctOutputOctets(uint32(s.OutputOctets)))
	if gw := uint32(s.InputOctets >> 32); gw > 0 {
		rfc2869.AcctInputGigawords_Set(p, rfc2869.AcctInputGigawords(gw))
	}
	if gw := uint32(s.OutputOctets >> 32); gw > 0 {
		rfc2869.AcctOutputGigawords_Set(p, rfc2869.AcctOutputGigawords(gw))
	}

	if status == AcctStatusStop {
		cause := s.TerminateCause
		if cause == 0 {
			cause = TerminateUserRequest
		}
		rfc2866.AcctTerminateCause_Set(p, cause)
	}
	return p, nil
}

// Exchange sends req to addr, signed with req.Secret, and returns the
// verified reply. It is the transport used for dynamic authorization
// (Disconnect-Request, CoA); the caller interprets the reply code.
func (c *Client) Exchange(ctx context.Context, addr string, req *Packet) (*Packet, error) {
	if req.Code == CodeAccessRequest {
		return nil, errors.New("radius: use Authenticate for Access-Request")
	}
	resp, err := c.roundTrip(ctx, addr, req.Code, reuse(req))
	if err != nil {
		return nil, err
	}
	c.stats.record(addr, req.Code, outcomeResponse, nil)
	return resp, nil
}

// reuse returns a builder that sends a copy of req under each new
// identifier, leaving req itself untouched.
func reuse(req *Packet) func(id byte) (*Packet, error) {
	return func(id byte) (*Packet, error) {
		p := *req
		p.Attributes = append(layeh.Attributes(nil), req.Attributes...)
		p.Identifier = id
		return &p, nil
	}
}

// roundTrip performs up to Retries attempts. Each attempt builds a fresh
// packet with a new identifier, dials its own socket and waits at most
// Timeout for a reply carrying that identifier.
func (c *Client) roundTrip(ctx context.Context, addr string, code Code, build func(id byte) (*Packet, error)) (*Packet, error) {
	var lastErr error

	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			c.stats.record(addr, code, outcomeError, err)
			return nil, err
		}

		req, err := build(byte(c.nextID.Add(1)))
		if err != nil {
			c.stats.record(addr, code, outcomeError, err)
			return nil, fmt.Errorf("build %s: %w", code, err)
		}
		raw, err := encodeRequest(req)
		if err != nil {
			c.stats.record(addr, code, outcomeError, err)
			return nil, fmt.Errorf("encode %s: %w", code, err)
		}

		c.stats.record(addr, code, outcomeRequest, nil)
		resp, err := c.attempt(ctx, addr, req.Secret, raw)
		if err == nil {
			return resp, nil
		}
		if errors.Is(err, ErrProtocol) {
			c.stats.record(addr, code, outcomeError, err)
			return nil, err
		}

		lastErr = err
		c.logger.Debug("No reply", "server", addr, "code", code.String(), "attempt", attempt, "error", err)
	}

	err := fmt.Errorf("%w: %s to %s after %d attempts: %v", ErrTimeout, code, addr, c.cfg.Retries, lastErr)
	c.stats.record(addr, code, outcomeTimeout, err)
	return nil, err
}

func (c *Client) attempt(ctx context.Context, addr string, secret, raw []byte) (*Packet, error) {
	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := c.dialer.DialContext(dctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}

	buf := make([]byte, layeh.MaxPacketLength)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		if n < 20 || buf[1] != raw[1] {
			continue
		}
		return decodeResponse(buf[:n], raw, secret)
	}
}

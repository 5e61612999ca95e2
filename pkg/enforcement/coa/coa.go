package coa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	layeh "layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2869"
	"layeh.com/radius/rfc3576"

	"github.com/veesix-networks/hotspotd/pkg/enforcement"
	"github.com/veesix-networks/hotspotd/pkg/logger"
	"github.com/veesix-networks/hotspotd/pkg/provider"
	"github.com/veesix-networks/hotspotd/pkg/radius"
)

const NASType = "coa"

func init() {
	enforcement.Register(NASType, func(opts enforcement.Options) (enforcement.Enforcer, error) {
		if opts.RADIUS == nil {
			return nil, errors.New("coa: a RADIUS client is required")
		}
		return New(opts.RADIUS), nil
	})
}

type Exchanger interface {
	Exchange(ctx context.Context, addr string, req *radius.Packet) (*radius.Packet, error)
}

// Enforcer terminates sessions with RFC 5176 Disconnect-Request. The NAS
// offers no session listing or messaging over this channel.
type Enforcer struct {
	client Exchanger
	logger *slog.Logger
}

func New(client Exchanger) *Enforcer {
	return &Enforcer{
		client: client,
		logger: logger.Get(logger.CoA),
	}
}

func (e *Enforcer) Info() provider.Info {
	return provider.Info{
		Name:    NASType,
		Version: "0.1.0",
		Author:  "hotspotd",
	}
}

func (e *Enforcer) ListActiveSessions(ctx context.Context, creds enforcement.Credentials) ([]enforcement.ActiveSession, error) {
	return nil, fmt.Errorf("%w: list sessions over CoA", enforcement.ErrUnsupported)
}

func (e *Enforcer) SendMessage(ctx context.Context, creds enforcement.Credentials, user, text string) (enforcement.Result, error) {
	return enforcement.Result{}, fmt.Errorf("%w: in-band messages over CoA", enforcement.ErrUnsupported)
}

func (e *Enforcer) Broadcast(ctx context.Context, creds enforcement.Credentials, text string) (enforcement.BroadcastResult, error) {
	return enforcement.BroadcastResult{}, fmt.Errorf("%w: broadcast over CoA", enforcement.ErrUnsupported)
}

func (e *Enforcer) Disconnect(ctx context.Context, creds enforcement.Credentials, user string) (enforcement.Result, error) {
	port := creds.Port
	if port == 0 {
		port = radius.DefaultCoAPort
	}
	addr := net.JoinHostPort(creds.Address, strconv.Itoa(port))

	req := layeh.New(radius.CodeDisconnectRequest, []byte(creds.Secret))
	if err := rfc2865.UserName_SetString(req, user); err != nil {
		return enforcement.Result{}, fmt.Errorf("User-Name: %w", radius.ErrAttributeTooLong)
	}
	if ip := net.ParseIP(creds.Address); ip != nil && ip.To4() != nil {
		rfc2865.NASIPAddress_Set(req, ip)
	}
	rfc2869.MessageAuthenticator_Set(req, make([]byte, radius.AuthLen))

	resp, err := e.client.Exchange(ctx, addr, req)
	if err != nil {
		if errors.Is(err, radius.ErrTimeout) {
			return enforcement.Result{}, fmt.Errorf("%w: %v", enforcement.ErrUnavailable, err)
		}
		return enforcement.Result{}, err
	}

	switch resp.Code {
	case radius.CodeDisconnectACK:
		e.logger.Info("Disconnect acknowledged", "nas", creds.NAS, "user", user)
		return enforcement.Result{Success: true}, nil
	case radius.CodeDisconnectNAK:
		cause := rfc3576.ErrorCause_Get(resp)
		if cause == radius.ErrorCauseSessionNotFound {
			return enforcement.NotFound(), nil
		}
		reason := "nak"
		if cause != 0 {
			reason = "nak: error-cause " + strconv.FormatUint(uint64(cause), 10)
		}
		if msg := rfc2865.ReplyMessage_GetString(resp); msg != "" {
			reason += ": " + msg
		}
		e.logger.Warn("Disconnect refused", "nas", creds.NAS, "user", user, "reason", reason)
		return enforcement.Result{Success: false, Reason: reason}, nil
	default:
		return enforcement.Result{}, fmt.Errorf("%w: %s in reply to Disconnect-Request", radius.ErrUnexpectedCode, resp.Code)
	}
}

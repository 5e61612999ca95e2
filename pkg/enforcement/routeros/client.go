package routeros

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/veesix-networks/hotspotd/pkg/enforcement"
	"github.com/veesix-networks/hotspotd/pkg/logger"
	"github.com/veesix-networks/hotspotd/pkg/provider"
)

const (
	NASType        = "routeros"
	activePath     = "/rest/ip/hotspot/active"
	DefaultTimeout = 10 * time.Second
)

func init() {
	enforcement.Register(NASType, func(opts enforcement.Options) (enforcement.Enforcer, error) {
		return New(opts), nil
	})
}

// Client drives the RouterOS REST API. It holds no connections between calls;
// every operation builds its own transport and closes it on return.
type Client struct {
	opts   enforcement.Options
	logger *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(opts enforcement.Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 10
	}
	if opts.Burst == 0 {
		opts.Burst = 5
	}
	return &Client{
		opts:     opts,
		logger:   logger.Get(logger.RouterOS),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (c *Client) Info() provider.Info {
	return provider.Info{
		Name:    NASType,
		Version: "0.1.0",
		Author:  "hotspotd",
	}
}

type activeEntry struct {
	ID       string `json:".id"`
	User     string `json:"user"`
	Address  string `json:"address"`
	MAC      string `json:"mac-address"`
	Uptime   string `json:"uptime"`
	BytesIn  string `json:"bytes-in"`
	BytesOut string `json:"bytes-out"`
}

func (e activeEntry) session() enforcement.ActiveSession {
	uptime, _ := ParseUptime(e.Uptime)
	in, _ := strconv.ParseUint(e.BytesIn, 10, 64)
	out, _ := strconv.ParseUint(e.BytesOut, 10, 64)
	return enforcement.ActiveSession{
		ID:       e.ID,
		User:     e.User,
		Address:  e.Address,
		MAC:      e.MAC,
		Uptime:   uptime,
		BytesIn:  in,
		BytesOut: out,
	}
}

// conn is one scoped management session against an access point.
type conn struct {
	c     *Client
	creds enforcement.Credentials
	base  string
	hc    *http.Client
	tr    *http.Transport
}

func (c *Client) open(creds enforcement.Credentials) (*conn, error) {
	base, err := baseURL(creds)
	if err != nil {
		return nil, err
	}

	timeout := creds.Timeout
	if timeout == 0 {
		timeout = c.opts.Timeout
	}

	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout: timeout,
		MaxIdleConns:        1,
	}
	if creds.Insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &conn{
		c:     c,
		creds: creds,
		base:  base,
		tr:    tr,
		hc:    &http.Client{Transport: tr, Timeout: timeout},
	}, nil
}

func (cn *conn) close() {
	cn.tr.CloseIdleConnections()
}

func baseURL(creds enforcement.Credentials) (string, error) {
	addr := creds.Address
	if addr == "" {
		return "", fmt.Errorf("routeros: no address for NAS %s", creds.NAS)
	}
	if !strings.Contains(addr, "://") {
		addr = "https://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", fmt.Errorf("routeros: address %q: %w", creds.Address, err)
	}
	if creds.Port != 0 {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(creds.Port))
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func (c *Client) limiter(nas string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[nas]
	if !ok {
		l = rate.NewLimiter(rate.Limit(c.opts.RateLimit), c.opts.Burst)
		c.limiters[nas] = l
	}
	return l
}

var errNotFound = errors.New("routeros: no such item")

func (cn *conn) do(ctx context.Context, method, path string, body any, out any) error {
	if err := cn.c.limiter(cn.creds.NAS).Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, cn.base+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(cn.creds.Username, cn.creds.Password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := cn.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", enforcement.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", enforcement.ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(string(respBody), "no such item"):
		return errNotFound
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s %s returned %d: %s", enforcement.ErrUnavailable, method, path, resp.StatusCode, apiMessage(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func apiMessage(body []byte) string {
	var e struct {
		Error   int    `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		if e.Detail != "" {
			return e.Message + ": " + e.Detail
		}
		return e.Message
	}
	return strings.TrimSpace(string(body))
}

func (cn *conn) active(ctx context.Context) ([]activeEntry, error) {
	var entries []activeEntry
	if err := cn.do(ctx, http.MethodGet, activePath, nil, &entries); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("%w: hotspot API not present", enforcement.ErrUnavailable)
		}
		return nil, err
	}
	return entries, nil
}

func (cn *conn) findUser(ctx context.Context, user string) ([]activeEntry, error) {
	entries, err := cn.active(ctx)
	if err != nil {
		return nil, err
	}
	var matched []activeEntry
	for _, e := range entries {
		if e.User == user {
			matched = append(matched, e)
		}
	}
	return matched, nil
}

func (c *Client) ListActiveSessions(ctx context.Context, creds enforcement.Credentials) ([]enforcement.ActiveSession, error) {
	cn, err := c.open(creds)
	if err != nil {
		return nil, err
	}
	defer cn.close()

	entries, err := cn.active(ctx)
	if err != nil {
		return nil, err
	}

	sessions := make([]enforcement.ActiveSession, 0, len(entries))
	for _, e := range entries {
		sessions = append(sessions, e.session())
	}
	return sessions, nil
}

func (c *Client) Disconnect(ctx context.Context, creds enforcement.Credentials, user string) (enforcement.Result, error) {
	cn, err := c.open(creds)
	if err != nil {
		return enforcement.Result{}, err
	}
	defer cn.close()

	entries, err := cn.findUser(ctx, user)
	if err != nil {
		return enforcement.Result{}, err
	}
	if len(entries) == 0 {
		return enforcement.NotFound(), nil
	}

	removed := 0
	for _, e := range entries {
		err := cn.do(ctx, http.MethodPost, activePath+"/remove", map[string]string{".id": e.ID}, nil)
		if errors.Is(err, errNotFound) {
			continue
		}
		if err != nil {
			return enforcement.Result{}, err
		}
		removed++
	}

	if removed == 0 {
		return enforcement.NotFound(), nil
	}

	c.logger.Info("Removed hotspot session", "nas", creds.NAS, "user", user, "entries", removed)
	return enforcement.Result{Success: true}, nil
}

func (c *Client) SendMessage(ctx context.Context, creds enforcement.Credentials, user, text string) (enforcement.Result, error) {
	cn, err := c.open(creds)
	if err != nil {
		return enforcement.Result{}, err
	}
	defer cn.close()

	entries, err := cn.findUser(ctx, user)
	if err != nil {
		return enforcement.Result{}, err
	}
	if len(entries) == 0 {
		return enforcement.NotFound(), nil
	}

	for _, e := range entries {
		if err := cn.sendMessage(ctx, e.ID, text); err != nil {
			if errors.Is(err, errNotFound) {
				return enforcement.NotFound(), nil
			}
			return enforcement.Result{}, err
		}
	}
	return enforcement.Result{Success: true}, nil
}

func (cn *conn) sendMessage(ctx context.Context, id, text string) error {
	return cn.do(ctx, http.MethodPost, activePath+"/send-message", map[string]string{
		"numbers": id,
		"message": text,
	}, nil)
}

// Broadcast messages every active session. Per-session failures are logged
// and skipped; NotifiedCount only counts deliveries the API accepted.
func (c *Client) Broadcast(ctx context.Context, creds enforcement.Credentials, text string) (enforcement.BroadcastResult, error) {
	cn, err := c.open(creds)
	if err != nil {
		return enforcement.BroadcastResult{}, err
	}
	defer cn.close()

	entries, err := cn.active(ctx)
	if err != nil {
		return enforcement.BroadcastResult{}, err
	}

	var result enforcement.BroadcastResult
	for _, e := range entries {
		if err := cn.sendMessage(ctx, e.ID, text); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			c.logger.Warn("Broadcast delivery failed", "nas", creds.NAS, "entry", e.ID, "user", e.User, "error", err)
			continue
		}
		result.NotifiedCount++
	}

	c.logger.Info("Broadcast sent", "nas", creds.NAS, "active", len(entries), "notified", result.NotifiedCount)
	return result, nil
}

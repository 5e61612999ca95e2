package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/veesix-networks/hotspotd/internal/watchdog"
	"github.com/veesix-networks/hotspotd/pkg/component"
	"github.com/veesix-networks/hotspotd/pkg/events"
	"github.com/veesix-networks/hotspotd/pkg/logger"
	"github.com/veesix-networks/hotspotd/pkg/version"
)

const (
	DefaultAddress = ":8080"

	pingInterval = 54 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
)

type Config struct {
	Address string
	Token   string
	Bus     events.Bus
	// Readiness backs /readyz and the status of /healthz. Without it the
	// gateway is always ready and healthy.
	Readiness watchdog.StateProvider
	// Components adds per-component status to /healthz.
	Components StatusLister
	// Notifier enables /api/notify and /api/broadcast.
	Notifier Notifier
	// Logins enables /api/login for the captive portal.
	Logins Logins
}

type StatusLister interface {
	Status() []component.Status
}

// Component serves real-time notifications to subscriber devices over
// websockets. Clients connect to /ws?user_id=<id>&nas=<name>.
type Component struct {
	*component.Base

	logger *slog.Logger
	cfg    Config
	hub    *Hub
	app    *fiber.App
	ln     net.Listener
	subs   []events.Subscription
}

func New(cfg Config) *Component {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}

	c := &Component{
		Base:   component.NewBase("gateway"),
		logger: logger.Get(logger.Gateway),
		cfg:    cfg,
		hub:    NewHub(),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(ctx *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return ctx.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Get("/healthz", c.health)
	app.Get("/readyz", c.ready)
	app.Get("/ws", c.upgrade, websocket.New(c.serveWS))
	api := app.Group("/api", c.requireToken)
	if cfg.Notifier != nil {
		api.Post("/notify", c.notifyUser)
		api.Post("/broadcast", c.broadcast)
	}
	if cfg.Logins != nil {
		api.Post("/login", c.login)
	}
	c.app = app

	return c
}

func (c *Component) Hub() *Hub {
	return c.hub
}

// Addr is the bound listen address, valid after Start.
func (c *Component) Addr() net.Addr {
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)

	ln, err := net.Listen("tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	c.ln = ln

	if c.cfg.Bus != nil {
		c.subs = append(c.subs,
			c.cfg.Bus.Subscribe(events.TopicNotifyUser, c.handleNotify),
			c.cfg.Bus.Subscribe(events.TopicNotifyBroadcast, c.handleNotify),
			c.cfg.Bus.Subscribe(events.TopicSessionLifecycle, c.handleLifecycle),
		)
	}

	c.logger.Info("Gateway started", "addr", ln.Addr().String())
	c.Go(func() {
		if err := c.app.Listener(ln); err != nil {
			c.logger.Error("Gateway server error", "error", err)
		}
	})
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping gateway component")

	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil

	c.hub.closeAll()

	if c.ln != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.app.ShutdownWithContext(shutdownCtx); err != nil {
			c.logger.Warn("Gateway shutdown", "error", err)
		}
	}

	c.StopContext()
	return nil
}

func (c *Component) handleNotify(ev events.Event) {
	ne, ok := ev.Data.(events.NotifyEvent)
	if !ok {
		return
	}
	msg := Message{
		Event:     eventFor(ne.Notification.Kind),
		Data:      ne.Notification,
		Timestamp: ev.Timestamp,
	}
	if ne.UserID != "" {
		n := c.hub.ToUser(ne.UserID, msg)
		c.logger.Debug("Notification pushed", "user_id", ne.UserID, "event", msg.Event, "connections", n)
		return
	}
	n := c.hub.ToNAS(ev.NAS(), msg)
	c.logger.Debug("Broadcast pushed", "nas", ev.NAS(), "connections", n)
}

func (c *Component) handleLifecycle(ev events.Event) {
	le, ok := ev.Data.(events.SessionLifecycleEvent)
	if !ok || le.State != events.SessionEnded {
		return
	}
	c.hub.ToUser(le.UserID, Message{
		Event: EventSessionEnded,
		Data: fiber.Map{
			"session_id": le.SessionID,
			"nas":        ev.NAS(),
			"reason":     le.Reason,
		},
		Timestamp: ev.Timestamp,
	})
}

func (c *Component) health(ctx *fiber.Ctx) error {
	body := fiber.Map{
		"status":  watchdog.HealthOK,
		"version": version.Info(),
		"clients": c.hub.Stats(),
	}
	if c.cfg.Readiness != nil {
		h := c.cfg.Readiness.Health()
		body["status"] = h.Status
		if len(h.Unreachable) > 0 {
			body["unreachable"] = h.Unreachable
		}
	}
	if c.cfg.Components != nil {
		body["components"] = c.cfg.Components.Status()
	}
	if c.cfg.Bus != nil {
		body["bus"] = c.cfg.Bus.Stats()
	}
	return ctx.JSON(body)
}

func (c *Component) ready(ctx *fiber.Ctx) error {
	if c.cfg.Readiness == nil {
		return ctx.JSON(fiber.Map{"status": "ready"})
	}

	body := fiber.Map{"targets": c.cfg.Readiness.GetAllStates()}
	if !c.cfg.Readiness.IsReady() {
		body["status"] = "not_ready"
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(body)
	}
	body["status"] = "ready"
	return ctx.JSON(body)
}

func (c *Component) authorized(ctx *fiber.Ctx) bool {
	if c.cfg.Token == "" {
		return true
	}
	token := ctx.Query("token")
	if h := ctx.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimPrefix(h, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.cfg.Token)) == 1
}

func (c *Component) upgrade(ctx *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(ctx) {
		return fiber.ErrUpgradeRequired
	}
	if !c.authorized(ctx) {
		return fiber.ErrUnauthorized
	}
	userID := ctx.Query("user_id")
	if userID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "user_id is required")
	}
	ctx.Locals("user_id", userID)
	ctx.Locals("nas", ctx.Query("nas"))
	return ctx.Next()
}

func (c *Component) serveWS(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	nas, _ := conn.Locals("nas").(string)

	cl := &client{userID: userID, nas: nas, send: make(chan []byte, sendBuffer)}
	welcome, _ := json.Marshal(Message{
		Event:     EventConnected,
		Data:      fiber.Map{"user_id": userID},
		Timestamp: time.Now(),
	})
	cl.send <- welcome

	c.hub.add(cl)
	defer c.hub.remove(cl)

	log := c.logger.With("user_id", userID, "nas", nas, "remote", conn.RemoteAddr().String())
	log.Debug("Websocket client connected")

	done := make(chan struct{})
	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writeLoop(conn, cl, done, log)
	}()
	c.readLoop(conn, log)
	close(done)
	<-written

	log.Debug("Websocket client disconnected")
}

func (c *Component) writeLoop(conn *websocket.Conn, cl *client, done <-chan struct{}, log *slog.Logger) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("Websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readLoop drains client frames so pongs and close frames are processed.
// Clients have nothing to say beyond that.
func (c *Component) readLoop(conn *websocket.Conn, log *slog.Logger) {
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug("Websocket read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

package gateway

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/veesix-networks/hotspotd/internal/aaa"
	"github.com/veesix-networks/hotspotd/internal/notify"
	"github.com/veesix-networks/hotspotd/pkg/enforcement"
	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/radius"
)

// Notifier sends operator-initiated messages. *notify.Dispatcher satisfies
// it.
type Notifier interface {
	Custom(ctx context.Context, t notify.Target, text string, kind models.NotificationKind) error
	Broadcast(ctx context.Context, nas, text string) (enforcement.BroadcastResult, error)
}

// Logins checks captive portal credentials. *aaa.Component satisfies it.
type Logins interface {
	Login(ctx context.Context, username, password, nas string) (*radius.AuthResult, error)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	NAS      string `json:"nas"`
}

type notifyRequest struct {
	UserID   string                  `json:"user_id"`
	Username string                  `json:"username"`
	NAS      string                  `json:"nas"`
	Message  string                  `json:"message"`
	Type     models.NotificationKind `json:"type"`
}

type broadcastRequest struct {
	NAS     string `json:"nas"`
	Message string `json:"message"`
}

func (c *Component) requireToken(ctx *fiber.Ctx) error {
	if !c.authorized(ctx) {
		return fiber.ErrUnauthorized
	}
	return ctx.Next()
}

// notifyUser pushes a message to one user's devices and shows it in-band on
// their access point. A failed in-band delivery is reported, not treated as
// a request error, since the push already went out.
func (c *Component) notifyUser(ctx *fiber.Ctx) error {
	var req notifyRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.UserID == "" || req.NAS == "" || req.Message == "" {
		return fiber.NewError(fiber.StatusBadRequest, "user_id, nas and message are required")
	}
	if req.Username == "" {
		req.Username = req.UserID
	}

	err := c.cfg.Notifier.Custom(ctx.UserContext(), notify.Target{
		UserID:   req.UserID,
		Username: req.Username,
		NAS:      req.NAS,
	}, req.Message, req.Type)

	body := fiber.Map{"pushed": true, "delivered": err == nil}
	if err != nil {
		c.logger.Warn("Custom notification not delivered in-band", "user_id", req.UserID, "nas", req.NAS, "error", err)
		body["error"] = err.Error()
	}
	return ctx.JSON(body)
}

// login answers the portal with the RADIUS verdict. A rejection is a normal
// response; only a missing verdict is an error, and it always denies.
func (c *Component) login(ctx *fiber.Ctx) error {
	var req loginRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Username == "" || req.NAS == "" {
		return fiber.NewError(fiber.StatusBadRequest, "username and nas are required")
	}

	res, err := c.cfg.Logins.Login(ctx.UserContext(), req.Username, req.Password, req.NAS)
	switch {
	case errors.Is(err, aaa.ErrUnknownNAS):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, aaa.ErrNoServer):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case err != nil:
		return ctx.Status(fiber.StatusBadGateway).JSON(fiber.Map{"accepted": false, "error": err.Error()})
	}

	body := fiber.Map{"accepted": res.Accepted}
	if res.ReplyMessage != "" {
		body["reply_message"] = res.ReplyMessage
	}
	if res.Accepted {
		if res.SessionTimeout > 0 {
			body["session_timeout"] = int64(res.SessionTimeout.Seconds())
		}
		if len(res.Class) > 0 {
			body["plan"] = string(res.Class)
		}
	}
	return ctx.JSON(body)
}

func (c *Component) broadcast(ctx *fiber.Ctx) error {
	var req broadcastRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.NAS == "" || req.Message == "" {
		return fiber.NewError(fiber.StatusBadRequest, "nas and message are required")
	}

	res, err := c.cfg.Notifier.Broadcast(ctx.UserContext(), req.NAS, req.Message)
	switch {
	case errors.Is(err, enforcement.ErrUnknownNAS):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case err != nil:
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return ctx.JSON(fiber.Map{"notified_count": res.NotifiedCount})
}

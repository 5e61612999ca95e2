package store

import (
	"context"
	"errors"
	"time"

	"github.com/veesix-networks/hotspotd/pkg/models"
)

var (
	// ErrStore wraps every failure of the backing database.
	ErrStore = errors.New("store: operation failed")

	ErrNotFound            = errors.New("store: not found")
	ErrActiveSessionExists = errors.New("store: user already has an active session on this NAS")
)

type SessionStore interface {
	// CreateSession fails with ErrActiveSessionExists if the user already
	// has an open session on the same NAS.
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	FindActive(ctx context.Context, userID, nasID string) (*models.Session, error)
	// FindByAcctSessionID returns the newest session, open or closed, that
	// the NAS reported under acctSessionID. NAS devices reuse the id, so
	// callers that mean the live session use FindActiveByAcctSessionID.
	FindByAcctSessionID(ctx context.Context, nasID, acctSessionID string) (*models.Session, error)
	FindActiveByAcctSessionID(ctx context.Context, nasID, acctSessionID string) (*models.Session, error)

	// ActiveSessions returns every open session joined with its plan.
	ActiveSessions(ctx context.Context) ([]*models.ActiveSession, error)

	// UpdateCounters never lowers a stored counter.
	UpdateCounters(ctx context.Context, id string, inputOctets, outputOctets uint64) error
	AppendSnapshot(ctx context.Context, snap *models.AccountingSnapshot) error
	Snapshots(ctx context.Context, sessionID string) ([]*models.AccountingSnapshot, error)

	// CloseSession ends an open session. It reports false, without error,
	// when the session had already been closed.
	CloseSession(ctx context.Context, id string, endedAt time.Time, reason models.EndReason) (bool, error)

	// RecordNotification inserts the (session, threshold) marker and reports
	// whether this call created it.
	RecordNotification(ctx context.Context, sessionID string, thresholdMinutes int, sentAt time.Time) (bool, error)
	HasNotification(ctx context.Context, sessionID string, thresholdMinutes int) (bool, error)
}

type PlanStore interface {
	CreatePlan(ctx context.Context, p *models.Plan) error
	GetPlan(ctx context.Context, id string) (*models.Plan, error)
	GetPlanByName(ctx context.Context, name string) (*models.Plan, error)
}

type Store interface {
	SessionStore
	PlanStore
	Ping(ctx context.Context) error
	Close() error
}

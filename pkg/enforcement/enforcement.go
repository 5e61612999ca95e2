package enforcement

import (
	"context"
	"errors"
	"time"

	"github.com/veesix-networks/hotspotd/pkg/provider"
)

var (
	// ErrUnavailable means the access point could not be reached or refused
	// the management session. The operation may be retried later.
	ErrUnavailable = errors.New("enforcement: access point unavailable")

	ErrUnsupported = errors.New("enforcement: operation not supported by this access point")
	ErrUnknownNAS  = errors.New("enforcement: unknown NAS")
)

const ReasonNotFound = "not found"

// Credentials address one access point's management interface. Each call
// opens its own connection with them.
type Credentials struct {
	NAS      string
	Address  string
	Port     int
	Username string
	Password string
	Secret   string
	Timeout  time.Duration
	Insecure bool
}

type ActiveSession struct {
	ID       string
	User     string
	Address  string
	MAC      string
	Uptime   time.Duration
	BytesIn  uint64
	BytesOut uint64
}

type Result struct {
	Success bool
	Reason  string
}

func NotFound() Result {
	return Result{Success: false, Reason: ReasonNotFound}
}

func (r Result) NotFound() bool {
	return !r.Success && r.Reason == ReasonNotFound
}

type BroadcastResult struct {
	NotifiedCount int
}

type Enforcer interface {
	provider.Provider
	ListActiveSessions(ctx context.Context, creds Credentials) ([]ActiveSession, error)
	// Disconnect is idempotent: a user without an active session yields
	// NotFound() and a nil error.
	Disconnect(ctx context.Context, creds Credentials, user string) (Result, error)
	SendMessage(ctx context.Context, creds Credentials, user, text string) (Result, error)
	Broadcast(ctx context.Context, creds Credentials, text string) (BroadcastResult, error)
}

package events

import "github.com/veesix-networks/hotspotd/pkg/models"

type SessionState string

const (
	SessionStarted SessionState = "started"
	SessionUpdated SessionState = "updated"
	SessionEnded   SessionState = "ended"
)

type SessionLifecycleEvent struct {
	SessionID string
	UserID    string
	Username  string
	NAS       string
	State     SessionState
	Reason    models.EndReason
}

// NotifyEvent targets one subscriber. UserID is empty for broadcasts, which
// are scoped by NAS instead.
type NotifyEvent struct {
	UserID       string
	NAS          string
	Notification models.Notification
}

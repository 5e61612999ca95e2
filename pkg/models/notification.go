package models

import "time"

type NotificationKind string

const (
	NotificationWarning   NotificationKind = "warning"
	NotificationExpired   NotificationKind = "expired"
	NotificationCustom    NotificationKind = "custom"
	NotificationBroadcast NotificationKind = "broadcast"
	NotificationInfo      NotificationKind = "info"
)

// Notification is the payload pushed to a subscriber's devices.
type Notification struct {
	Kind             NotificationKind `json:"type"`
	Title            string           `json:"title"`
	Message          string           `json:"message"`
	SessionID        string           `json:"session_id,omitempty"`
	NAS              string           `json:"nas,omitempty"`
	ThresholdMinutes int              `json:"threshold_minutes,omitempty"`
	RemainingMinutes int              `json:"remaining_minutes,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

package models

import (
	"net"
	"time"
)

type EndReason string

const (
	EndReasonNone       EndReason = ""
	EndReasonNormal     EndReason = "normal"
	EndReasonExpired    EndReason = "expired"
	EndReasonTerminated EndReason = "terminated"
)

func (r EndReason) Valid() bool {
	switch r {
	case EndReasonNormal, EndReasonExpired, EndReasonTerminated:
		return true
	}
	return false
}

// Session is one granted network-access period. Closing a session sets
// EndedAt and EndReason; rows are never removed.
type Session struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Username      string     `json:"username"`
	NASID         string     `json:"nas_id"`
	PlanID        string     `json:"plan_id"`
	AcctSessionID string     `json:"acct_session_id"`
	FramedIP      net.IP     `json:"framed_ip,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	EndReason     EndReason  `json:"end_reason,omitempty"`
	InputOctets   uint64     `json:"input_octets"`
	OutputOctets  uint64     `json:"output_octets"`
}

func (s *Session) Active() bool {
	return s.EndedAt == nil
}

func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

func (s *Session) TotalOctets() uint64 {
	return s.InputOctets + s.OutputOctets
}

// ActiveSession is a still-open session joined with the plan it was bought
// under.
type ActiveSession struct {
	Session
	PlanName     string
	PlanDuration time.Duration
	DataCapBytes uint64
}

func (a *ActiveSession) Remaining(now time.Time) time.Duration {
	return a.PlanDuration - a.Elapsed(now)
}

func (a *ActiveSession) OverDataCap() bool {
	return a.DataCapBytes > 0 && a.TotalOctets() >= a.DataCapBytes
}

type AcctStatus string

const (
	AcctStatusStart   AcctStatus = "start"
	AcctStatusInterim AcctStatus = "interim-update"
	AcctStatusStop    AcctStatus = "stop"
)

type AccountingSnapshot struct {
	SessionID    string        `json:"session_id"`
	RecordedAt   time.Time     `json:"recorded_at"`
	Status       AcctStatus    `json:"status"`
	SessionTime  time.Duration `json:"session_time"`
	InputOctets  uint64        `json:"input_octets"`
	OutputOctets uint64        `json:"output_octets"`
}

// ExpiryThreshold marks the expiry notice in the notification log.
const ExpiryThreshold = 0

type NotificationRecord struct {
	SessionID        string    `json:"session_id"`
	ThresholdMinutes int       `json:"threshold_minutes"`
	SentAt           time.Time `json:"sent_at"`
}

package watchdog

import (
	"context"
	"sync/atomic"
	"time"
)

// Target is a dependency whose reachability gates readiness. Check returns
// nil when the dependency answered.
type Target interface {
	Name() string
	Check(ctx context.Context) error
	Critical() bool
}

type HealthResult struct {
	Healthy   bool          `json:"healthy"`
	Error     error         `json:"-"`
	ErrorStr  string        `json:"error,omitempty"`
	Latency   time.Duration `json:"-"`
	LatencyMs float64       `json:"latency-ms"`
	Timestamp time.Time     `json:"timestamp"`
}

func NewHealthResult(healthy bool, err error, latency time.Duration) *HealthResult {
	r := &HealthResult{
		Healthy:   healthy,
		Error:     err,
		Latency:   latency,
		LatencyMs: float64(latency.Microseconds()) / 1000.0,
		Timestamp: time.Now(),
	}
	if err != nil {
		r.ErrorStr = err.Error()
	}
	return r
}

type TargetState int32

const (
	StateInit TargetState = iota
	StateUp
	StateDown
)

func (s TargetState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateUp:
		return "up"
	case StateDown:
		return "down"
	default:
		return "unknown"
	}
}

type StateInfo struct {
	Name            string        `json:"name" prometheus:"label"`
	State           string        `json:"state"`
	Critical        bool          `json:"critical"`
	Up              bool          `json:"-" prometheus:"name=hotspotd_watchdog_target_up,help=Whether the dependency answered its last health checks,type=gauge"`
	LastCheck       *HealthResult `json:"last-check,omitempty"`
	ConsecFailures  int64         `json:"consecutive-failures" prometheus:"name=hotspotd_watchdog_consecutive_failures,help=Consecutive failed health checks,type=gauge"`
	TotalFailures   int64         `json:"total-failures" prometheus:"name=hotspotd_watchdog_failures_total,help=Failed health checks,type=counter"`
	TotalRecoveries int64         `json:"total-recoveries" prometheus:"name=hotspotd_watchdog_recoveries_total,help=Transitions from down to up,type=counter"`
	LastStateChange time.Time     `json:"last-state-change"`
	Uptime          string        `json:"uptime,omitempty"`
}

type atomicState struct {
	val atomic.Int32
}

func (s *atomicState) Load() TargetState {
	return TargetState(s.val.Load())
}

func (s *atomicState) Store(state TargetState) {
	s.val.Store(int32(state))
}

package monitor

import "time"

type Stats struct {
	Ticks             uint64        `json:"ticks" prometheus:"name=hotspotd_monitor_ticks_total,help=Monitor ticks run,type=counter"`
	SkippedTicks      uint64        `json:"skipped_ticks" prometheus:"name=hotspotd_monitor_skipped_ticks_total,help=Ticks skipped because the previous tick was still running,type=counter"`
	SessionsEvaluated uint64        `json:"sessions_evaluated" prometheus:"name=hotspotd_monitor_sessions_evaluated_total,help=Active sessions evaluated,type=counter"`
	Warnings          uint64        `json:"warnings" prometheus:"name=hotspotd_monitor_warnings_total,help=Expiry warnings claimed,type=counter"`
	Expiries          uint64        `json:"expiries" prometheus:"name=hotspotd_monitor_expiries_total,help=Sessions closed as expired,type=counter"`
	Failures          uint64        `json:"failures" prometheus:"name=hotspotd_monitor_failures_total,help=Per-session evaluation failures,type=counter"`
	ActiveSessions    int           `json:"active_sessions" prometheus:"name=hotspotd_monitor_active_sessions,help=Active sessions seen by the last tick,type=gauge"`
	LastTickDuration  time.Duration `json:"last_tick_duration" prometheus:"name=hotspotd_monitor_last_tick_duration_seconds,help=Duration of the last tick,type=gauge"`
	LastTick          time.Time     `json:"last_tick" prometheus:"name=hotspotd_monitor_last_tick_timestamp,help=Start of the last tick,type=gauge"`
}

func (c *Component) update(fn func(s *Stats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}

func (c *Component) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

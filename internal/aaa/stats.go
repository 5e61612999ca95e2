package aaa

type Stats struct {
	LoginAccepts     uint64 `prometheus:"name=hotspotd_aaa_login_accepts_total,help=Logins accepted by the RADIUS server,type=counter"`
	LoginRejects     uint64 `prometheus:"name=hotspotd_aaa_login_rejects_total,help=Logins rejected by the RADIUS server,type=counter"`
	LoginErrors      uint64 `prometheus:"name=hotspotd_aaa_login_errors_total,help=Logins denied because the RADIUS exchange failed,type=counter"`
	SessionsStarted  uint64 `prometheus:"name=hotspotd_aaa_sessions_started_total,help=Sessions started,type=counter"`
	SessionsUpdated  uint64 `prometheus:"name=hotspotd_aaa_sessions_updated_total,help=Session counter updates,type=counter"`
	SessionsStopped  uint64 `prometheus:"name=hotspotd_aaa_sessions_stopped_total,help=Sessions stopped,type=counter"`
	AccountingErrors uint64 `prometheus:"name=hotspotd_aaa_accounting_errors_total,help=Upstream accounting requests that failed,type=counter"`
	SyncRuns         uint64 `prometheus:"name=hotspotd_aaa_sync_runs_total,help=Interim counter sync runs,type=counter"`
	SyncErrors       uint64 `prometheus:"name=hotspotd_aaa_sync_errors_total,help=Interim counter sync failures,type=counter"`
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

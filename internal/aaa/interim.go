package aaa

import (
	"context"
	"errors"

	"github.com/veesix-networks/hotspotd/pkg/enforcement"
	"github.com/veesix-networks/hotspotd/pkg/models"
)

// SyncCounters pulls byte counters from every access point that can list its
// sessions and applies them to the matching open sessions. Access points that
// are down or cannot list are skipped until the next run.
func (c *Component) SyncCounters(ctx context.Context) int {
	if !c.syncMu.TryLock() {
		c.logger.Debug("Interim sync still running, skipping")
		return 0
	}
	defer c.syncMu.Unlock()

	open, err := c.cfg.Store.ActiveSessions(ctx)
	if err != nil {
		c.logger.Error("Interim sync failed to load sessions", "error", err)
		return 0
	}

	byNAS := make(map[string]map[string]*models.ActiveSession)
	for _, s := range open {
		if byNAS[s.NASID] == nil {
			byNAS[s.NASID] = make(map[string]*models.ActiveSession)
		}
		byNAS[s.NASID][s.Username] = s
	}

	updated := 0
	for _, nas := range c.cfg.Lister.Names() {
		sessions := byNAS[nas]
		if len(sessions) == 0 {
			continue
		}

		live, err := c.cfg.Lister.ListActiveSessions(ctx, nas)
		if errors.Is(err, enforcement.ErrUnsupported) {
			continue
		}
		if err != nil {
			c.update(func(st *Stats) { st.SyncErrors++ })
			c.logger.Warn("Interim sync failed to list sessions", "nas", nas, "error", err)
			continue
		}

		for _, l := range live {
			s, ok := sessions[l.User]
			if !ok {
				continue
			}
			if l.BytesIn <= s.InputOctets && l.BytesOut <= s.OutputOctets {
				continue
			}
			if _, err := c.UpdateSession(ctx, s.ID, l.BytesIn, l.BytesOut); err != nil {
				c.update(func(st *Stats) { st.SyncErrors++ })
				c.sessionLogger(&s.Session).Warn("Interim sync failed to update session", "error", err)
				continue
			}
			updated++
		}
	}

	c.update(func(st *Stats) { st.SyncRuns++ })
	c.logger.Debug("Interim sync finished", "updated", updated)
	return updated
}

package notify

import "github.com/veesix-networks/hotspotd/pkg/models"

type Stats struct {
	Warnings       uint64 `prometheus:"name=hotspotd_notify_warnings_total,help=Expiry warnings dispatched,type=counter"`
	Expiries       uint64 `prometheus:"name=hotspotd_notify_expiries_total,help=Expiry notices dispatched,type=counter"`
	Custom         uint64 `prometheus:"name=hotspotd_notify_custom_total,help=Custom notifications dispatched,type=counter"`
	Broadcasts     uint64 `prometheus:"name=hotspotd_notify_broadcasts_total,help=Broadcasts dispatched,type=counter"`
	InBandFailures uint64 `prometheus:"name=hotspotd_notify_inband_failures_total,help=Notifications the access point did not deliver,type=counter"`
}

func (d *Dispatcher) record(kind models.NotificationKind, err error) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	switch kind {
	case models.NotificationWarning:
		d.stats.Warnings++
	case models.NotificationExpired:
		d.stats.Expiries++
	case models.NotificationBroadcast:
		d.stats.Broadcasts++
	default:
		d.stats.Custom++
	}
	if err != nil {
		d.stats.InBandFailures++
	}
}

func (d *Dispatcher) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

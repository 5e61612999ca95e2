package acctd

import "layeh.com/radius/rfc2866"

type Stats struct {
	Starts     uint64 `prometheus:"name=hotspotd_acctd_starts_total,help=Accounting-Start requests recorded,type=counter"`
	Interims   uint64 `prometheus:"name=hotspotd_acctd_interims_total,help=Interim-Update requests recorded,type=counter"`
	Stops      uint64 `prometheus:"name=hotspotd_acctd_stops_total,help=Accounting-Stop requests recorded,type=counter"`
	Other      uint64 `prometheus:"name=hotspotd_acctd_other_total,help=Other accounting requests acknowledged,type=counter"`
	Errors     uint64 `prometheus:"name=hotspotd_acctd_errors_total,help=Accounting requests that could not be recorded,type=counter"`
	UnknownNAS uint64 `prometheus:"name=hotspotd_acctd_unknown_nas_total,help=Packets dropped from unknown NAS addresses,type=counter"`
}

func (s *Stats) count(status rfc2866.AcctStatusType) {
	switch status {
	case rfc2866.AcctStatusType_Value_Start:
		s.Starts++
	case rfc2866.AcctStatusType_Value_InterimUpdate:
		s.Interims++
	case rfc2866.AcctStatusType_Value_Stop:
		s.Stops++
	default:
		s.Other++
	}
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

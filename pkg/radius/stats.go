package radius

import (
	"net"
	"sort"
	"sync"
	"time"
)

type ServerStats struct {
	Address        string    `json:"address" prometheus:"label"`
	AuthRequests   uint64    `json:"auth_requests" prometheus:"name=hotspotd_radius_auth_requests_total,help=Total RADIUS authentication requests,type=counter"`
	AuthAccepts    uint64    `json:"auth_accepts" prometheus:"name=hotspotd_radius_auth_accepts_total,help=Total RADIUS authentication accepts,type=counter"`
	AuthRejects    uint64    `json:"auth_rejects" prometheus:"name=hotspotd_radius_auth_rejects_total,help=Total RADIUS authentication rejects,type=counter"`
	AuthTimeouts   uint64    `json:"auth_timeouts" prometheus:"name=hotspotd_radius_auth_timeouts_total,help=Total RADIUS authentication timeouts,type=counter"`
	AuthErrors     uint64    `json:"auth_errors" prometheus:"name=hotspotd_radius_auth_errors_total,help=Total RADIUS authentication errors,type=counter"`
	AcctRequests   uint64    `json:"acct_requests" prometheus:"name=hotspotd_radius_acct_requests_total,help=Total RADIUS accounting requests,type=counter"`
	AcctResponses  uint64    `json:"acct_responses" prometheus:"name=hotspotd_radius_acct_responses_total,help=Total RADIUS accounting responses,type=counter"`
	AcctTimeouts   uint64    `json:"acct_timeouts" prometheus:"name=hotspotd_radius_acct_timeouts_total,help=Total RADIUS accounting timeouts,type=counter"`
	AcctErrors     uint64    `json:"acct_errors" prometheus:"name=hotspotd_radius_acct_errors_total,help=Total RADIUS accounting errors,type=counter"`
	OtherRequests  uint64    `json:"other_requests" prometheus:"name=hotspotd_radius_other_requests_total,help=Total RADIUS dynamic authorization requests,type=counter"`
	OtherResponses uint64    `json:"other_responses" prometheus:"name=hotspotd_radius_other_responses_total,help=Total RADIUS dynamic authorization responses,type=counter"`
	OtherTimeouts  uint64    `json:"other_timeouts" prometheus:"name=hotspotd_radius_other_timeouts_total,help=Total RADIUS dynamic authorization timeouts,type=counter"`
	OtherErrors    uint64    `json:"other_errors" prometheus:"name=hotspotd_radius_other_errors_total,help=Total RADIUS dynamic authorization errors,type=counter"`
	LastError      string    `json:"last_error" prometheus:"label"`
	LastErrorTime  time.Time `json:"last_error_time" prometheus:"name=hotspotd_radius_last_error_timestamp,help=Last error timestamp,type=gauge"`
}

type Stats struct {
	mu sync.Mutex

	servers map[string]*ServerStats
}

func NewStats() *Stats {
	return &Stats{
		servers: make(map[string]*ServerStats),
	}
}

func (s *Stats) getOrCreateServerLocked(addr string) *ServerStats {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	if _, exists := s.servers[host]; !exists {
		s.servers[host] = &ServerStats{Address: host}
	}
	return s.servers[host]
}

type outcome int

const (
	outcomeRequest outcome = iota
	outcomeResponse
	outcomeReject
	outcomeTimeout
	outcomeError
)

// record counts one event for addr. Access-Accept is a response on the auth
// side; Access-Reject and Access-Challenge are rejects.
func (s *Stats) record(addr string, code Code, o outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.getOrCreateServerLocked(addr)
	switch code {
	case CodeAccessRequest:
		switch o {
		case outcomeRequest:
			st.AuthRequests++
		case outcomeResponse:
			st.AuthAccepts++
		case outcomeReject:
			st.AuthRejects++
		case outcomeTimeout:
			st.AuthTimeouts++
		case outcomeError:
			st.AuthErrors++
		}
	case CodeAccountingRequest:
		switch o {
		case outcomeRequest:
			st.AcctRequests++
		case outcomeResponse, outcomeReject:
			st.AcctResponses++
		case outcomeTimeout:
			st.AcctTimeouts++
		case outcomeError:
			st.AcctErrors++
		}
	default:
		switch o {
		case outcomeRequest:
			st.OtherRequests++
		case outcomeResponse, outcomeReject:
			st.OtherResponses++
		case outcomeTimeout:
			st.OtherTimeouts++
		case outcomeError:
			st.OtherErrors++
		}
	}

	if o == outcomeTimeout || o == outcomeError {
		if err != nil {
			st.LastError = err.Error()
		}
		st.LastErrorTime = time.Now()
	}
}

func (s *Stats) GetServerStats(addr string) *ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.servers[addr]
	if !ok {
		return nil
	}
	c := *st
	return &c
}

// Snapshot returns a copy of every server's counters ordered by address.
func (s *Stats) Snapshot() []*ServerStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*ServerStats, 0, len(s.servers))
	for _, st := range s.servers {
		c := *st
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result
}

package models

import "time"

// Plan rows are immutable once a session references them; price or duration
// changes are new rows.
type Plan struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	DataCapBytes    uint64 `json:"data_cap_bytes,omitempty"`
	Active          bool   `json:"active"`
}

func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationMinutes) * time.Minute
}

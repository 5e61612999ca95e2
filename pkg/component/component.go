package component

import (
	"context"
	"time"
)

// Component is one long-running part of hotspotd: the AAA core, the
// session monitor, the accounting listener, the gateway and the sinks.
type Component interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Status is what /healthz reports for each registered component.
type Status struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Uptime  string `json:"uptime,omitempty"`
}

type startTimer interface {
	StartedAt() time.Time
}

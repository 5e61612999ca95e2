package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]MetricHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]MetricHandler)}
}

// Add registers h, replacing any handler with the same name.
func (r *Registry) Add(h MetricHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
}

func (r *Registry) Handlers() []MetricHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]MetricHandler, 0, len(names))
	for _, name := range names {
		out = append(out, r.handlers[name])
	}
	return out
}

// Collector exposes the registry to a prometheus.Registerer.
func (r *Registry) Collector(logger *slog.Logger) prometheus.Collector {
	return &collector{registry: r, logger: logger}
}

type collector struct {
	registry *Registry
	logger   *slog.Logger
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, h := range c.registry.Handlers() {
		h.Describe(ch)
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()
	for _, h := range c.registry.Handlers() {
		if err := h.Collect(ctx, ch); err != nil {
			c.logger.Error("Failed to collect metrics", "handler", h.Name(), "error", err)
		}
	}
}

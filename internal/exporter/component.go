package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veesix-networks/hotspotd/pkg/component"
	"github.com/veesix-networks/hotspotd/pkg/logger"
	"github.com/veesix-networks/hotspotd/pkg/metrics"
)

const (
	DefaultAddress = ":9090"
	DefaultPath    = "/metrics"
)

type Config struct {
	Address  string
	Path     string
	Registry *metrics.Registry
}

type Status struct {
	State         string `json:"state"`
	ListenAddress string `json:"listen_address"`
	HandlerCount  int    `json:"handler_count"`
	ServerRunning bool   `json:"server_running"`
}

// Component serves the handlers of a metrics.Registry, plus the Go runtime
// and process collectors, over HTTP.
type Component struct {
	*component.Base
	logger *slog.Logger
	cfg    Config
	server *http.Server
	ln     net.Listener

	mu            sync.RWMutex
	serverRunning bool
}

func New(cfg Config) *Component {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Registry == nil {
		cfg.Registry = metrics.NewRegistry()
	}

	return &Component{
		Base:   component.NewBase("exporter"),
		logger: logger.Get(logger.Exporter),
		cfg:    cfg,
	}
}

// Addr is the bound listen address, valid after Start.
func (c *Component) Addr() net.Addr {
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

func (c *Component) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state := "stopped"
	if c.serverRunning {
		state = "running"
	}
	return Status{
		State:         state,
		ListenAddress: c.cfg.Address,
		HandlerCount:  len(c.cfg.Registry.Handlers()),
		ServerRunning: c.serverRunning,
	}
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("Starting Prometheus exporter", "addr", c.cfg.Address)

	registry := prometheus.NewRegistry()
	if err := registry.Register(c.cfg.Registry.Collector(c.logger)); err != nil {
		return fmt.Errorf("failed to register collector: %w", err)
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := net.Listen("tcp", c.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	c.ln = ln

	mux := http.NewServeMux()
	mux.Handle(c.cfg.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(c.logger.Handler(), slog.LevelError),
	}))

	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	c.mu.Lock()
	c.serverRunning = true
	c.mu.Unlock()

	c.logger.Info("Registered metric handlers", "count", len(c.cfg.Registry.Handlers()))

	c.Go(func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("Prometheus HTTP server error", "error", err)
		}
		c.mu.Lock()
		c.serverRunning = false
		c.mu.Unlock()
	})

	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("Stopping Prometheus exporter")

	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.server.Shutdown(shutdownCtx)
	}

	c.StopContext()
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/veesix-networks/hotspotd/internal/aaa"
	"github.com/veesix-networks/hotspotd/internal/acctd"
	"github.com/veesix-networks/hotspotd/internal/exporter"
	"github.com/veesix-networks/hotspotd/internal/gateway"
	"github.com/veesix-networks/hotspotd/internal/monitor"
	"github.com/veesix-networks/hotspotd/internal/notify"
	"github.com/veesix-networks/hotspotd/internal/watchdog"
	"github.com/veesix-networks/hotspotd/pkg/config"
	"github.com/veesix-networks/hotspotd/pkg/enforcement"
	"github.com/veesix-networks/hotspotd/pkg/events"
	"github.com/veesix-networks/hotspotd/pkg/metrics"
	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/radius"
	"github.com/veesix-networks/hotspotd/pkg/store"
	"github.com/veesix-networks/hotspotd/pkg/store/memory"
	"github.com/veesix-networks/hotspotd/pkg/store/postgres"
	"github.com/veesix-networks/hotspotd/pkg/store/sqlite"
	"github.com/veesix-networks/hotspotd/pkg/version"
)

func openStore(ctx context.Context, cfg config.Store) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return sqlite.Open(ctx, cfg.DSN)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver '%s'", cfg.Driver)
	}
}

// seedPlans creates configured plans that are not in the store yet. Existing
// plans are left alone since sessions may reference them.
func seedPlans(ctx context.Context, ps store.PlanStore, plans []config.Plan) error {
	for _, p := range plans {
		_, err := ps.GetPlanByName(ctx, p.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("plan %s: %w", p.Name, err)
		}
		if err := ps.CreatePlan(ctx, &models.Plan{
			ID:              uuid.New().String(),
			Name:            p.Name,
			DurationMinutes: int(p.Duration.Minutes()),
			DataCapBytes:    p.DataCapBytes,
			Active:          true,
		}); err != nil {
			return fmt.Errorf("plan %s: %w", p.Name, err)
		}
	}
	return nil
}

// buildDirectory creates one enforcer per access point from the vendor
// registry.
func buildDirectory(cfg *config.Config, rc *radius.Client) (*enforcement.Directory, error) {
	dir := enforcement.NewDirectory()
	for _, n := range cfg.NAS {
		factory, ok := enforcement.Get(n.Type)
		if !ok {
			return nil, fmt.Errorf("NAS type '%s' not found. Available types: %v", n.Type, enforcement.List())
		}
		enf, err := factory(enforcement.Options{
			RADIUS:    rc,
			RateLimit: n.RateLimit,
			Burst:     n.Burst,
			Timeout:   n.API.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("NAS %s: %w", n.Name, err)
		}

		creds := enforcement.Credentials{
			NAS:      n.Name,
			Address:  n.API.URL,
			Username: n.API.Username,
			Password: n.API.Password,
			Secret:   n.Secret,
			Timeout:  n.API.Timeout,
			Insecure: n.API.InsecureSkipVerify,
		}
		if n.Type == "coa" {
			creds.Address = n.Address
			creds.Port = n.CoAPort
		}
		dir.Add(n.Name, enforcement.Target{Enforcer: enf, Credentials: creds})
	}
	return dir, nil
}

type metricSources struct {
	radius     *radius.Client
	aaa        *aaa.Component
	monitor    *monitor.Component
	notify     *notify.Dispatcher
	acctd      *acctd.Component
	gateway    *gateway.Component
	watchdog   *watchdog.Watchdog
	bus        events.Bus
	exporterLg *slog.Logger
}

func addHandler[T any](reg *metrics.Registry, name string, source metrics.Source[T], lg *slog.Logger) error {
	h, err := metrics.NewStructHandler(name, source, nil, lg)
	if err != nil {
		return err
	}
	reg.Add(h)
	return nil
}

func registerMetrics(reg *metrics.Registry, src metricSources) error {
	lg := src.exporterLg
	errs := []error{
		addHandler(reg, "radius", metrics.Deref(src.radius.Stats().Snapshot), lg),
		addHandler(reg, "aaa", metrics.Single(src.aaa.Stats), lg),
		addHandler(reg, "monitor", metrics.Single(src.monitor.Stats), lg),
		addHandler(reg, "notify", metrics.Single(src.notify.Stats), lg),
		addHandler(reg, "watchdog", metrics.List(src.watchdog.GetAllStates), lg),
		addHandler(reg, "events", metrics.Single(exporter.BusSnapshot(src.bus)), lg),
		addHandler(reg, "build", metrics.Single(version.Info), lg),
	}
	if src.acctd != nil {
		errs = append(errs, addHandler(reg, "acctd", metrics.Single(src.acctd.Stats), lg))
	}
	if src.gateway != nil {
		errs = append(errs, addHandler(reg, "gateway", metrics.Single(src.gateway.Hub().Stats), lg))
	}
	return errors.Join(errs...)
}

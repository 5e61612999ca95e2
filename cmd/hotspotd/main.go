package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veesix-networks/hotspotd/internal/aaa"
	"github.com/veesix-networks/hotspotd/internal/acctd"
	"github.com/veesix-networks/hotspotd/internal/exporter"
	"github.com/veesix-networks/hotspotd/internal/gateway"
	"github.com/veesix-networks/hotspotd/internal/monitor"
	"github.com/veesix-networks/hotspotd/internal/notify"
	"github.com/veesix-networks/hotspotd/internal/watchdog"
	"github.com/veesix-networks/hotspotd/internal/watchdog/targets"
	"github.com/veesix-networks/hotspotd/pkg/clock"
	"github.com/veesix-networks/hotspotd/pkg/component"
	"github.com/veesix-networks/hotspotd/pkg/config"
	"github.com/veesix-networks/hotspotd/pkg/events/local"
	"github.com/veesix-networks/hotspotd/pkg/logger"
	"github.com/veesix-networks/hotspotd/pkg/metrics"
	"github.com/veesix-networks/hotspotd/pkg/models"
	"github.com/veesix-networks/hotspotd/pkg/push"
	pushredis "github.com/veesix-networks/hotspotd/pkg/push/redis"
	"github.com/veesix-networks/hotspotd/pkg/radius"
	"github.com/veesix-networks/hotspotd/pkg/version"

	_ "github.com/veesix-networks/hotspotd/pkg/enforcement/coa"
	_ "github.com/veesix-networks/hotspotd/pkg/enforcement/routeros"
)

func main() {
	configPath := flag.String("config", "/etc/hotspotd/hotspotd.yaml", "Path to configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("hotspotd", version.Full())
		return
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Configure(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Components)

	mainLog := logger.Get(logger.Main)
	mainLog.Info("Starting hotspotd", "version", version.Version, "nas", len(cfg.NAS), "store", cfg.Store.Driver)

	ctx := context.Background()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	if err := seedPlans(ctx, st, cfg.Plans); err != nil {
		log.Fatalf("Failed to seed plans: %v", err)
	}

	radiusClient := radius.NewClient(radiusConfig(cfg))

	directory, err := buildDirectory(cfg, radiusClient)
	if err != nil {
		log.Fatalf("Failed to configure access points: %v", err)
	}

	eventBus := local.NewBus()
	defer eventBus.Close()

	dispatcher := notify.New(directory, push.NewBusChannel(eventBus, "notify"), clock.Real{})

	aaaCfg := aaa.Config{
		Store:           st,
		Lister:          directory,
		Bus:             eventBus,
		NASAddresses:    nasAddresses(cfg),
		InterimInterval: cfg.Accounting.InterimInterval,
	}
	if cfg.RADIUS.Server != "" {
		aaaCfg.Auth = radiusClient
		if cfg.Accounting.Upstream {
			aaaCfg.Upstream = radiusClient
		}
	}
	aaaComp, err := aaa.New(aaaCfg)
	if err != nil {
		log.Fatalf("Failed to create AAA component: %v", err)
	}

	monitorComp, err := monitor.New(monitor.Config{
		Store:       st,
		Enforcer:    directory,
		Notifier:    dispatcher,
		Accounting:  aaaComp,
		Bus:         eventBus,
		Interval:    cfg.Monitor.Interval,
		Workers:     cfg.Monitor.Workers,
		Thresholds:  cfg.Monitor.Thresholds,
		TickOnStart: true,
	})
	if err != nil {
		log.Fatalf("Failed to create monitor component: %v", err)
	}

	wd := watchdog.New()
	wd.Register(targets.NewStoreTarget(st), watchdog.RunnerConfig{})
	for _, n := range cfg.NAS {
		wd.Register(targets.NewNASTarget(n.Name, directory, false), watchdog.RunnerConfig{CheckInterval: time.Minute})
	}

	orch := component.NewOrchestrator()
	orch.Register(aaaComp)
	orch.Register(monitorComp)
	orch.Register(wd)

	var acctdComp *acctd.Component
	if cfg.Accounting.Listen != "" {
		acctdComp, err = acctd.New(acctd.Config{
			Listen:   cfg.Accounting.Listen,
			NAS:      acctdNAS(cfg),
			Sessions: aaaComp,
			Lookup:   st,
		})
		if err != nil {
			log.Fatalf("Failed to create accounting listener: %v", err)
		}
		orch.Register(acctdComp)
	}

	var gatewayComp *gateway.Component
	if cfg.Gateway.Address != "" {
		gatewayComp = gateway.New(gateway.Config{
			Address:    cfg.Gateway.Address,
			Token:      cfg.Gateway.Token,
			Bus:        eventBus,
			Readiness:  wd,
			Components: orch,
			Notifier:   dispatcher,
			Logins:     aaaComp,
		})
		orch.Register(gatewayComp)
	}

	if cfg.Push.Redis.Address != "" {
		orch.Register(pushredis.New(pushredis.Config{
			Address:  cfg.Push.Redis.Address,
			Password: cfg.Push.Redis.Password,
			DB:       cfg.Push.Redis.DB,
			Channel:  cfg.Push.Redis.Channel,
		}, eventBus))
	}

	if cfg.Metrics.Address != "" {
		reg := metrics.NewRegistry()
		err := registerMetrics(reg, metricSources{
			radius:     radiusClient,
			aaa:        aaaComp,
			monitor:    monitorComp,
			notify:     dispatcher,
			acctd:      acctdComp,
			gateway:    gatewayComp,
			watchdog:   wd,
			bus:        eventBus,
			exporterLg: logger.Get(logger.Exporter),
		})
		if err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		orch.Register(exporter.New(exporter.Config{
			Address:  cfg.Metrics.Address,
			Path:     cfg.Metrics.Path,
			Registry: reg,
		}))
	}

	if err := orch.Start(ctx); err != nil {
		log.Fatalf("Failed to start components: %v", err)
	}

	mainLog.Info("hotspotd started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mainLog.Info("Shutting down hotspotd...")

	stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := orch.Stop(stopCtx); err != nil {
		mainLog.Error("Error stopping components", "error", err)
	}

	mainLog.Info("hotspotd stopped")
}

func radiusConfig(cfg *config.Config) radius.ClientConfig {
	rc := radius.ClientConfig{
		Server:   cfg.RADIUS.Server,
		AuthPort: cfg.RADIUS.AuthPort,
		AcctPort: cfg.RADIUS.AcctPort,
		Secret:   cfg.RADIUS.Secret,
		Secrets:  make(map[string]string, len(cfg.NAS)),
		NASIP:    net.ParseIP(cfg.RADIUS.NASIP),
		Timeout:  cfg.RADIUS.Timeout,
		Retries:  cfg.RADIUS.Retries,
	}
	for _, n := range cfg.NAS {
		if ip := net.ParseIP(n.Address); ip != nil && n.Secret != "" {
			rc.Secrets[ip.String()] = n.Secret
		}
	}
	return rc
}

func nasAddresses(cfg *config.Config) map[string]net.IP {
	out := make(map[string]net.IP, len(cfg.NAS))
	for _, n := range cfg.NAS {
		out[n.Name] = net.ParseIP(n.Address)
	}
	return out
}

func acctdNAS(cfg *config.Config) []models.NAS {
	out := make([]models.NAS, 0, len(cfg.NAS))
	for _, n := range cfg.NAS {
		out = append(out, models.NAS{
			Name:        n.Name,
			Address:     net.ParseIP(n.Address),
			Secret:      n.Secret,
			Type:        models.NASType(n.Type),
			DefaultPlan: n.DefaultPlan,
		})
	}
	return out
}

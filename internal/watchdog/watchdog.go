package watchdog

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/veesix-networks/hotspotd/pkg/component"
	"github.com/veesix-networks/hotspotd/pkg/logger"
)

type StateProvider interface {
	GetAllStates() []StateInfo
	IsReady() bool
	Health() Health
}

type HealthStatus string

const (
	HealthOK HealthStatus = "ok"
	// HealthDegraded means the store answers but some access points do not.
	// Sessions on those access points keep running and are enforced once
	// the access point comes back.
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// Health summarizes the daemon's dependencies for /healthz. Unreachable
// lists the targets currently down, critical or not.
type Health struct {
	Status      HealthStatus `json:"status"`
	Unreachable []string     `json:"unreachable,omitempty"`
}

// Watchdog polls the session store and the access points' management APIs
// and reports readiness. It never acts on a failure beyond logging it.
type Watchdog struct {
	*component.Base
	logger  *slog.Logger
	runners map[string]*targetRunner
	mu      sync.RWMutex
}

func New() *Watchdog {
	return &Watchdog{
		Base:    component.NewBase("watchdog"),
		logger:  logger.Get(logger.Watchdog),
		runners: make(map[string]*targetRunner),
	}
}

// Register adds target. Targets registered after Start are not polled.
func (w *Watchdog) Register(target Target, config RunnerConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := target.Name()
	if _, exists := w.runners[name]; exists {
		w.logger.Warn("target already registered, replacing", "target", name)
	}

	w.runners[name] = newTargetRunner(target, config, w.logger)
	w.logger.Info("registered target", "target", name, "critical", target.Critical())
}

func (w *Watchdog) Start(ctx context.Context) error {
	w.StartContext(ctx)
	w.logger.Info("starting watchdog")

	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, runner := range w.runners {
		runner.start(w.Ctx)
	}

	return nil
}

func (w *Watchdog) Stop(ctx context.Context) error {
	w.logger.Info("stopping watchdog")

	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, runner := range w.runners {
		runner.stop()
	}

	w.StopContext()
	return nil
}

func (w *Watchdog) GetState(name string) (StateInfo, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	runner, ok := w.runners[name]
	if !ok {
		return StateInfo{}, false
	}
	return runner.getStateInfo(), true
}

func (w *Watchdog) GetAllStates() []StateInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()

	states := make([]StateInfo, 0, len(w.runners))
	for _, runner := range w.runners {
		states = append(states, runner.getStateInfo())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// Health reports HealthDown when a critical target is down and
// HealthDegraded when only non-critical targets are. Targets still in their
// first check count as reachable.
func (w *Watchdog) Health() Health {
	w.mu.RLock()
	defer w.mu.RUnlock()

	h := Health{Status: HealthOK}
	for name, runner := range w.runners {
		if runner.state.Load() != StateDown {
			continue
		}
		h.Unreachable = append(h.Unreachable, name)
		if runner.target.Critical() {
			h.Status = HealthDown
		} else if h.Status == HealthOK {
			h.Status = HealthDegraded
		}
	}
	sort.Strings(h.Unreachable)
	return h
}

// IsHealthy reports whether the store and every access point answered.
func (w *Watchdog) IsHealthy() bool {
	return w.Health().Status == HealthOK
}

// IsReady reports whether every critical target is up.
func (w *Watchdog) IsReady() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, runner := range w.runners {
		if runner.target.Critical() && runner.state.Load() != StateUp {
			return false
		}
	}
	return true
}

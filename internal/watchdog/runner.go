package watchdog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultCheckInterval    = 30 * time.Second
	DefaultTimeout          = 5 * time.Second
	DefaultFailureThreshold = 3
)

type RunnerConfig struct {
	CheckInterval    time.Duration
	Timeout          time.Duration
	FailureThreshold int
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.CheckInterval <= 0 {
		c.CheckInterval = DefaultCheckInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	return c
}

type targetRunner struct {
	target Target
	config RunnerConfig
	logger *slog.Logger

	state           atomicState
	lastCheck       atomic.Pointer[HealthResult]
	consecFailures  atomic.Int64
	totalFailures   atomic.Int64
	totalRecoveries atomic.Int64
	lastStateChange atomic.Pointer[time.Time]
	upSince         atomic.Pointer[time.Time]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newTargetRunner(target Target, config RunnerConfig, logger *slog.Logger) *targetRunner {
	r := &targetRunner{
		target: target,
		config: config.withDefaults(),
		logger: logger.With("target", target.Name()),
	}
	r.state.Store(StateInit)
	now := time.Now()
	r.lastStateChange.Store(&now)
	return r
}

func (r *targetRunner) start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

func (r *targetRunner) stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *targetRunner) getStateInfo() StateInfo {
	state := r.state.Load()
	info := StateInfo{
		Name:            r.target.Name(),
		State:           state.String(),
		Critical:        r.target.Critical(),
		Up:              state == StateUp,
		ConsecFailures:  r.consecFailures.Load(),
		TotalFailures:   r.totalFailures.Load(),
		TotalRecoveries: r.totalRecoveries.Load(),
	}

	if lc := r.lastCheck.Load(); lc != nil {
		info.LastCheck = lc
	}
	if t := r.lastStateChange.Load(); t != nil {
		info.LastStateChange = *t
	}
	if t := r.upSince.Load(); t != nil {
		info.Uptime = time.Since(*t).Truncate(time.Second).String()
	}

	return info
}

func (r *targetRunner) run(ctx context.Context) {
	ticker := time.NewTicker(r.config.CheckInterval)
	defer ticker.Stop()

	r.doCheck(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.doCheck(ctx)
		}
	}
}

func (r *targetRunner) doCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	start := time.Now()
	err := r.target.Check(checkCtx)
	if ctx.Err() != nil {
		return
	}
	result := NewHealthResult(err == nil, err, time.Since(start))
	r.lastCheck.Store(result)

	if result.Healthy {
		r.handleSuccess()
	} else {
		r.handleFailure(result)
	}
}

func (r *targetRunner) handleSuccess() {
	prev := r.state.Load()
	if prev != StateUp {
		r.setState(StateUp)
		now := time.Now()
		r.upSince.Store(&now)
		if prev == StateDown {
			r.totalRecoveries.Add(1)
		}
		r.logger.Info("target is UP", "previous_state", prev.String())
	}
	r.consecFailures.Store(0)
}

func (r *targetRunner) handleFailure(result *HealthResult) {
	failures := r.consecFailures.Add(1)
	r.totalFailures.Add(1)

	if int(failures) < r.config.FailureThreshold {
		r.logger.Warn("health check failed", "failures", failures, "threshold", r.config.FailureThreshold, "error", result.Error)
		return
	}

	if r.state.Load() != StateDown {
		r.setState(StateDown)
		r.upSince.Store(nil)
		if r.target.Critical() {
			r.logger.Error("target is DOWN", "failures", failures, "error", result.Error)
		} else {
			r.logger.Warn("target is DOWN", "failures", failures, "error", result.Error)
		}
	}
}

func (r *targetRunner) setState(s TargetState) {
	r.state.Store(s)
	now := time.Now()
	r.lastStateChange.Store(&now)
}

package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type Orchestrator struct {
	components []Component
	started    int
	mu         sync.Mutex

	// listMu and running let Status answer while Start or Stop holds mu.
	listMu  sync.RWMutex
	running atomic.Int64
}

func NewOrchestrator() *Orchestrator {
	return &Orchestrator{
		components: make([]Component, 0),
	}
}

func (o *Orchestrator) Register(comp Component) {
	if comp == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listMu.Lock()
	o.components = append(o.components, comp)
	o.listMu.Unlock()
}

// Start starts components in registration order. On failure the components
// already running are stopped again before the error is returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i, comp := range o.components {
		if err := comp.Start(ctx); err != nil {
			stopErr := o.stopLocked(ctx)
			return errors.Join(fmt.Errorf("start %s: %w", comp.Name(), err), stopErr)
		}
		o.setStarted(i + 1)
	}
	return nil
}

// Stop stops started components in reverse order and keeps going past
// individual failures.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopLocked(ctx)
}

func (o *Orchestrator) stopLocked(ctx context.Context) error {
	var errs []error
	for i := o.started - 1; i >= 0; i-- {
		comp := o.components[i]
		if err := comp.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", comp.Name(), err))
		}
	}
	o.setStarted(0)
	return errors.Join(errs...)
}

func (o *Orchestrator) setStarted(n int) {
	o.started = n
	o.running.Store(int64(n))
}

// Status lists the registered components in start order.
func (o *Orchestrator) Status() []Status {
	o.listMu.RLock()
	defer o.listMu.RUnlock()

	started := int(o.running.Load())
	out := make([]Status, 0, len(o.components))
	for i, comp := range o.components {
		st := Status{Name: comp.Name(), Running: i < started}
		if t, ok := comp.(startTimer); ok && st.Running {
			if at := t.StartedAt(); !at.IsZero() {
				st.Uptime = time.Since(at).Truncate(time.Second).String()
			}
		}
		out = append(out, st)
	}
	return out
}

package component

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Base carries the run context and goroutine bookkeeping shared by every
// daemon component. Embedders call StartContext in Start and StopContext in
// Stop; goroutines launched with Go are waited for on stop.
type Base struct {
	name   string
	Ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startedAt atomic.Pointer[time.Time]
}

func NewBase(name string) *Base {
	return &Base{name: name, Ctx: context.Background()}
}

func (b *Base) Name() string {
	return b.name
}

func (b *Base) StartContext(parentCtx context.Context) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	b.Ctx, b.cancel = context.WithCancel(parentCtx)
	now := time.Now()
	b.startedAt.Store(&now)
}

func (b *Base) StopContext() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.startedAt.Store(nil)
}

// StartedAt is zero while the component is stopped.
func (b *Base) StartedAt() time.Time {
	if t := b.startedAt.Load(); t != nil {
		return *t
	}
	return time.Time{}
}

func (b *Base) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

package targets

import "context"

type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreTarget checks the session store. Without it the monitor cannot run,
// so it is always critical.
type StoreTarget struct {
	store Pinger
}

func NewStoreTarget(store Pinger) *StoreTarget {
	return &StoreTarget{store: store}
}

func (t *StoreTarget) Name() string { return "store" }

func (t *StoreTarget) Check(ctx context.Context) error {
	return t.store.Ping(ctx)
}

func (t *StoreTarget) Critical() bool { return true }

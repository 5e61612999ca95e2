package enforcement

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type Target struct {
	Enforcer    Enforcer
	Credentials Credentials
}

// Directory resolves a NAS name to the enforcer and credentials that manage
// it, so callers only need to know which NAS a session lives on.
type Directory struct {
	mu      sync.RWMutex
	targets map[string]Target
}

func NewDirectory() *Directory {
	return &Directory{targets: make(map[string]Target)}
}

func (d *Directory) Add(nas string, t Target) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.Credentials.NAS == "" {
		t.Credentials.NAS = nas
	}
	d.targets[nas] = t
}

func (d *Directory) Lookup(nas string) (Target, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.targets[nas]
	return t, ok
}

func (d *Directory) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.targets))
	for name := range d.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Directory) target(nas string) (Target, error) {
	t, ok := d.Lookup(nas)
	if !ok {
		return Target{}, fmt.Errorf("%w: %s", ErrUnknownNAS, nas)
	}
	return t, nil
}

func (d *Directory) ListActiveSessions(ctx context.Context, nas string) ([]ActiveSession, error) {
	t, err := d.target(nas)
	if err != nil {
		return nil, err
	}
	return t.Enforcer.ListActiveSessions(ctx, t.Credentials)
}

func (d *Directory) Disconnect(ctx context.Context, nas, user string) (Result, error) {
	t, err := d.target(nas)
	if err != nil {
		return Result{}, err
	}
	return t.Enforcer.Disconnect(ctx, t.Credentials, user)
}

func (d *Directory) SendMessage(ctx context.Context, nas, user, text string) (Result, error) {
	t, err := d.target(nas)
	if err != nil {
		return Result{}, err
	}
	return t.Enforcer.SendMessage(ctx, t.Credentials, user, text)
}

func (d *Directory) Broadcast(ctx context.Context, nas, text string) (BroadcastResult, error) {
	t, err := d.target(nas)
	if err != nil {
		return BroadcastResult{}, err
	}
	return t.Enforcer.Broadcast(ctx, t.Credentials, text)
}

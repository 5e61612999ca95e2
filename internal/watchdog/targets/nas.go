package targets

import (
	"context"
	"errors"

	"github.com/veesix-networks/hotspotd/pkg/enforcement"
)

type Lister interface {
	ListActiveSessions(ctx context.Context, nas string) ([]enforcement.ActiveSession, error)
}

// NASTarget checks an access point's management API by listing its active
// sessions. Access points that cannot list sessions, such as CoA-only
// ones, are reported healthy.
type NASTarget struct {
	nas      string
	lister   Lister
	critical bool
}

func NewNASTarget(nas string, lister Lister, critical bool) *NASTarget {
	return &NASTarget{nas: nas, lister: lister, critical: critical}
}

func (t *NASTarget) Name() string { return "nas." + t.nas }

func (t *NASTarget) Check(ctx context.Context) error {
	_, err := t.lister.ListActiveSessions(ctx, t.nas)
	if errors.Is(err, enforcement.ErrUnsupported) {
		return nil
	}
	return err
}

func (t *NASTarget) Critical() bool { return t.critical }

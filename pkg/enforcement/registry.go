package enforcement

import (
	"time"

	"github.com/veesix-networks/hotspotd/pkg/provider"
	"github.com/veesix-networks/hotspotd/pkg/radius"
)

// Options carries what a vendor factory may need beyond the credentials.
type Options struct {
	RADIUS    *radius.Client
	RateLimit float64
	Burst     int
	Timeout   time.Duration
}

type Factory func(opts Options) (Enforcer, error)

var registry = provider.NewRegistry[Factory]()

func Register(nasType string, factory Factory) {
	registry.Register(nasType, factory)
}

func Get(nasType string) (Factory, bool) {
	return registry.Get(nasType)
}

func List() []string {
	return registry.List()
}

package daemon

import (
	"context"
	"time"

	"codeberg.org/mutker/hmsd/internal/collector"
	"codeberg.org/mutker/hmsd/internal/geoip"
	"codeberg.org/mutker/hmsd/internal/telemetry"
)

// Discovery is what one discovery pass found. Zero durations fall back to the
// daemon options.
type Discovery struct {
	Collectors []collector.Collector
	Providers  []geoip.Provider
	// URLs maps provider name to base URL, for diagnostics
	URLs map[string]string

	GeoIPOrder   []string
	GeoIPTimeout time.Duration

	// Gateway may be nil when no endpoint is configured
	Gateway    telemetry.Gateway
	Simulation bool

	Interval     time.Duration
	CycleTimeout time.Duration
}

// Discoverer builds the collector and provider set; it runs on Start,
// Restart and on every applied reload.
type Discoverer interface {
	Discover(ctx context.Context) (*Discovery, error)
}

// DiscoverFunc adapts a function into a Discoverer
type DiscoverFunc func(ctx context.Context) (*Discovery, error)

func (f DiscoverFunc) Discover(ctx context.Context) (*Discovery, error) {
	return f(ctx)
}

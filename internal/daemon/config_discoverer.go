package daemon

import (
	"context"
	"maps"
	"time"

	"codeberg.org/mutker/hmsd/internal/collector"
	"codeberg.org/mutker/hmsd/internal/config"
	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/gateway"
	"codeberg.org/mutker/hmsd/internal/geoip"
	"github.com/spf13/afero"
)

// geoAttempts is one: the resolver fails over to the next provider instead
const geoAttempts = 1

// ConfigDiscoverer registers the built-in collectors and geo-IP providers
// using the current configuration. HTTP clients are rebuilt on every pass so
// timeout and retry changes apply on reload.
type ConfigDiscoverer struct {
	Config  *config.Holder
	FS      afero.Fs
	Version string
	Started time.Time
	// GPU is optional; the gpu collector is registered only when set
	GPU collector.Inventory

	// Clients override the retrying pester clients, mainly for tests
	GeoClient  geoip.Doer
	SendClient gateway.Doer
}

func (d *ConfigDiscoverer) Discover(_ context.Context) (*Discovery, error) {
	errFactory := errors.New()

	cfg := d.Config.Get()
	if cfg == nil {
		return nil, errFactory.WithMessage(ErrDiscovery, "no configuration loaded")
	}

	fs := d.FS
	if fs == nil {
		fs = afero.NewReadOnlyFs(afero.NewOsFs())
	}

	collectors := []collector.Collector{
		collector.NewCPU(fs),
		collector.NewMemory(fs),
		collector.NewOS(fs),
		collector.NewSoftware(d.Version, d.Started),
	}
	if d.GPU != nil {
		collectors = append(collectors, collector.NewGPU(d.GPU))
	}

	geoClient := d.GeoClient
	if geoClient == nil {
		geoClient = gateway.NewClient(cfg.GeoIP.Timeout, geoAttempts)
	}
	providers := []geoip.Provider{
		geoip.NewFreeGeoIP(d.Config, geoClient),
		geoip.NewIPAPI(d.Config, geoClient),
	}

	discovery := &Discovery{
		Collectors:   collectors,
		Providers:    providers,
		URLs:         maps.Clone(cfg.GeoIP.URLs),
		GeoIPOrder:   append([]string(nil), cfg.GeoIP.Order...),
		GeoIPTimeout: cfg.GeoIP.Timeout,
		Simulation:   cfg.Telemetry.Simulation,
		Interval:     cfg.Interval,
		CycleTimeout: cfg.CycleTimeout,
	}

	if cfg.Telemetry.Endpoint != "" {
		sendClient := d.SendClient
		if sendClient == nil {
			sendClient = gateway.NewClient(cfg.Telemetry.Timeout, cfg.Telemetry.Retries)
		}
		gw, err := gateway.New(cfg.Telemetry.Endpoint, "hmsd/"+d.Version, sendClient)
		if err != nil {
			return nil, errFactory.Wrap(ErrDiscovery, err)
		}
		discovery.Gateway = gw
	}

	return discovery, nil
}

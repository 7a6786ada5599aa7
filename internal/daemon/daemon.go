// Package daemon runs the periodic telemetry loop.
package daemon

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/hmsd/internal/collector"
	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/geoip"
	"codeberg.org/mutker/hmsd/internal/logger"
	"codeberg.org/mutker/hmsd/internal/metrics"
	"codeberg.org/mutker/hmsd/internal/telemetry"
)

const (
	DefaultInterval     = 24 * time.Hour
	DefaultCycleTimeout = 2 * time.Minute
)

type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

type Options struct {
	Store      *telemetry.Store
	Discoverer Discoverer
	// Interval and CycleTimeout apply when discovery leaves them unset
	Interval     time.Duration
	CycleTimeout time.Duration
	Recorder     metrics.Recorder
}

// snapshot is the immutable result of one discovery
type snapshot struct {
	registry     *collector.Registry
	resolver     *geoip.Resolver
	urls         map[string]string
	orchestrator *telemetry.Orchestrator
	interval     time.Duration
	cycleTimeout time.Duration
}

// Daemon owns one background loop. Start, Stop and Restart are serialized;
// diagnostics read the published snapshot without locking.
type Daemon struct {
	opts Options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	state  atomic.Int32
	snap   atomic.Pointer[snapshot]
	reload chan struct{}
}

var (
	instance     *Daemon
	instanceErr  error
	instanceOnce sync.Once
)

// Instance returns the process-wide daemon, creating it from opts on first
// call. Later calls ignore opts.
func Instance(opts Options) (*Daemon, error) {
	instanceOnce.Do(func() {
		instance, instanceErr = New(opts)
	})
	return instance, instanceErr
}

func New(opts Options) (*Daemon, error) {
	errFactory := errors.New()

	if opts.Store == nil {
		return nil, errFactory.WithMessage(ErrInvalidOptions, "daemon requires a telemetry store")
	}
	if opts.Discoverer == nil {
		return nil, errFactory.WithMessage(ErrInvalidOptions, "daemon requires a discoverer")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = DefaultCycleTimeout
	}
	if opts.Recorder == nil {
		recorder, err := metrics.NewService(metrics.Config{Enabled: false})
		if err != nil {
			return nil, err
		}
		opts.Recorder = recorder
	}

	return &Daemon{
		opts:   opts,
		reload: make(chan struct{}, 1),
	}, nil
}

// Start discovers collectors and providers and launches the loop. Calling it
// on a running daemon does nothing.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.startLocked(ctx)
}

func (d *Daemon) startLocked(ctx context.Context) error {
	if d.State() == StateRunning {
		return nil
	}

	if err := d.discover(ctx); err != nil {
		return err
	}

	// Drop any reload requested while stopped; discovery just ran
	select {
	case <-d.reload:
	default:
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	d.cancel = cancel
	d.done = done
	d.state.Store(int32(StateRunning))

	go d.run(loopCtx, done)

	logger.Info().Msg("Telemetry daemon started")

	return nil
}

// Stop cancels the loop, interrupting an in-flight cycle, and waits for it
// to exit. Calling it on a daemon that is not running does nothing.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
}

func (d *Daemon) stopLocked() {
	if d.State() != StateRunning {
		return
	}

	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil
	d.state.Store(int32(StateStopped))

	logger.Info().Msg("Telemetry daemon stopped")
}

// Restart stops the loop and starts it again with a fresh discovery
func (d *Daemon) Restart(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	return d.startLocked(ctx)
}

// ReloadSettings asks the loop to rediscover collectors and providers. The
// loop applies it while sleeping between cycles, or before the next cycle
// when one is in flight. It never blocks; pending requests collapse into one.
func (d *Daemon) ReloadSettings() {
	select {
	case d.reload <- struct{}{}:
		logger.Debug().Msg("Telemetry reload requested")
	default:
	}
}

func (d *Daemon) State() State {
	return State(d.state.Load())
}

// GeoIPServiceSelected returns the provider that last answered, or ""
func (d *Daemon) GeoIPServiceSelected() string {
	snap := d.snap.Load()
	if snap == nil || snap.resolver == nil {
		return ""
	}
	return snap.resolver.Selected()
}

// GeoIPServicesURLMap returns a copy of the discovered provider URLs
func (d *Daemon) GeoIPServicesURLMap() map[string]string {
	snap := d.snap.Load()
	if snap == nil {
		return map[string]string{}
	}
	return maps.Clone(snap.urls)
}

// CollectorIDs lists the collectors found by the last discovery
func (d *Daemon) CollectorIDs() []string {
	snap := d.snap.Load()
	if snap == nil {
		return nil
	}
	return snap.registry.IDs()
}

// ValidateConsent rejects consent granted to collectors the last discovery
// did not register.
func (d *Daemon) ValidateConsent(consent map[string]bool) error {
	snap := d.snap.Load()
	if snap == nil {
		return errors.New().WithMessage(ErrDiscovery, "collectors not discovered yet")
	}

	ids := make([]string, 0, len(consent))
	for id, ok := range consent {
		if ok {
			ids = append(ids, id)
		}
	}
	return snap.registry.Validate(ids)
}

// RunOnce runs a single cycle in the caller's goroutine, discovering first
// if nothing has been discovered yet.
func (d *Daemon) RunOnce(ctx context.Context) (telemetry.Outcome, error) {
	if d.snap.Load() == nil {
		if err := d.discover(ctx); err != nil {
			return telemetry.OutcomeFailed, err
		}
	}
	return d.cycle(ctx)
}

// Discover runs one discovery pass and publishes it without touching the loop
func (d *Daemon) Discover(ctx context.Context) error {
	return d.discover(ctx)
}

func (d *Daemon) discover(ctx context.Context) error {
	errFactory := errors.New()

	found, err := d.opts.Discoverer.Discover(ctx)
	if err != nil {
		return errFactory.Wrap(ErrDiscovery, err)
	}

	preferred := ""
	if prev := d.snap.Load(); prev != nil && prev.resolver != nil {
		preferred = prev.resolver.Selected()
	}

	collectors := append([]collector.Collector(nil), found.Collectors...)
	var resolver *geoip.Resolver
	if len(found.Providers) > 0 {
		resolver = geoip.NewResolver(found.Providers, found.GeoIPOrder, found.GeoIPTimeout, preferred)
		collectors = append(collectors, collector.NewLocation(resolver))
	}
	registry := collector.NewRegistry(collectors...)

	snap := &snapshot{
		registry: registry,
		resolver: resolver,
		urls:     maps.Clone(found.URLs),
		orchestrator: telemetry.NewOrchestrator(registry, d.opts.Store, found.Gateway,
			telemetry.WithSimulation(found.Simulation),
			telemetry.WithRecorder(d.opts.Recorder),
		),
		interval:     d.opts.Interval,
		cycleTimeout: d.opts.CycleTimeout,
	}
	if found.Interval > 0 {
		snap.interval = found.Interval
	}
	if found.CycleTimeout > 0 {
		snap.cycleTimeout = found.CycleTimeout
	}
	if snap.urls == nil {
		snap.urls = map[string]string{}
	}
	d.snap.Store(snap)

	logger.Debug().
		Strs("collectors", registry.IDs()).
		Int("providers", len(found.Providers)).
		Dur("interval", snap.interval).
		Bool("simulation", found.Simulation).
		Msg("Telemetry discovery complete")

	return nil
}

func (d *Daemon) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-d.reload:
			d.applyReload(ctx)
		default:
		}

		if ctx.Err() != nil {
			return
		}

		_, _ = d.cycle(ctx)

		if !d.sleep(ctx) {
			return
		}
	}
}

// sleep waits out the interval, applying reloads as they arrive. It reports
// false once ctx is done.
func (d *Daemon) sleep(ctx context.Context) bool {
	start := time.Now()
	timer := time.NewTimer(d.snap.Load().interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-d.reload:
			d.applyReload(ctx)
			// A changed interval still counts from the end of the last cycle
			timer.Reset(max(d.snap.Load().interval-time.Since(start), 0))
		}
	}
}

func (d *Daemon) applyReload(ctx context.Context) {
	if err := d.discover(ctx); err != nil {
		logger.Error().Err(err).Msg("Reload failed, keeping previous collectors and providers")
		return
	}
	d.opts.Recorder.ReloadApplied()
	logger.Info().Msg("Telemetry settings reloaded")
}

func (d *Daemon) cycle(ctx context.Context) (telemetry.Outcome, error) {
	snap := d.snap.Load()

	cycleCtx, cancel := context.WithTimeout(ctx, snap.cycleTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := snap.orchestrator.RunCycle(cycleCtx)
	if err != nil {
		outcome = telemetry.OutcomeFailed
		cycleErr := errors.New().Wrap(ErrCycle, err)
		logger.ErrorWithContext(cycleErr, "daemon", "cycle").Msg("Telemetry cycle failed")
		err = cycleErr
	}
	d.opts.Recorder.CycleCompleted(string(outcome), time.Since(start))

	logger.Debug().Str("outcome", string(outcome)).Dur("took", time.Since(start)).Msg("Telemetry cycle finished")

	return outcome, err
}

package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/hmsd/internal/collector"
	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/geoip"
	"codeberg.org/mutker/hmsd/internal/logger"
	"codeberg.org/mutker/hmsd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testInterval = 20 * time.Millisecond
	waitFor      = 2 * time.Second
	tick         = 5 * time.Millisecond
)

type countingGateway struct {
	calls atomic.Int32
	block bool
}

func (g *countingGateway) Send(ctx context.Context, _ []byte) error {
	g.calls.Add(1)
	if g.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

type staticProvider struct {
	name string
	err  error
}

func (p staticProvider) Name() string { return p.name }

func (p staticProvider) RetrieveLocation(context.Context) (geoip.Info, error) {
	if p.err != nil {
		return geoip.Info{}, p.err
	}
	return geoip.Info{CountryCode: "TR"}, nil
}

type harness struct {
	store     *telemetry.Store
	gateway   *countingGateway
	discovers atomic.Int32
	daemon    *Daemon
}

func newHarness(t *testing.T, providers ...geoip.Provider) *harness {
	t.Helper()
	return newHarnessWithInterval(t, testInterval, providers...)
}

func newHarnessWithInterval(t *testing.T, interval time.Duration, providers ...geoip.Provider) *harness {
	t.Helper()

	repo, err := telemetry.NewRepository(telemetry.Config{
		DBPath: filepath.Join(t.TempDir(), "telemetry.db"),
	}, logger.Get())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	h := &harness{
		store:   telemetry.NewStore(repo),
		gateway: &countingGateway{},
	}

	discoverer := DiscoverFunc(func(context.Context) (*Discovery, error) {
		h.discovers.Add(1)
		return &Discovery{
			Collectors: []collector.Collector{
				collector.Func{Name: "cpu", Fn: func(context.Context) (map[string]string, error) {
					return map[string]string{"model": "Xeon"}, nil
				}},
			},
			Providers:  providers,
			URLs:       map[string]string{"freegeoip": "http://geo.test/json/"},
			GeoIPOrder: []string{"freegeoip", "ipapi"},
			Gateway:    h.gateway,
		}, nil
	})

	d, err := New(Options{
		Store:      h.store,
		Discoverer: discoverer,
		Interval:   interval,
	})
	require.NoError(t, err)
	t.Cleanup(d.Stop)
	h.daemon = d

	return h
}

func (h *harness) activate(t *testing.T, consent map[string]bool) {
	t.Helper()
	rec, err := h.store.Enable(context.Background(), consent)
	require.NoError(t, err)
	require.NoError(t, h.store.Save(context.Background(), rec))
}

func TestStartRunsCyclesWhileActive(t *testing.T) {
	h := newHarness(t)
	h.activate(t, map[string]bool{"cpu": true})

	require.NoError(t, h.daemon.Start(context.Background()))
	assert.Equal(t, StateRunning, h.daemon.State())

	require.Eventually(t, func() bool {
		return h.gateway.calls.Load() >= 2
	}, waitFor, tick)

	h.daemon.Stop()
	assert.Equal(t, StateStopped, h.daemon.State())

	calls := h.gateway.calls.Load()
	time.Sleep(3 * testInterval)
	assert.Equal(t, calls, h.gateway.calls.Load())

	rec, err := h.store.RetrieveSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusSuccess, rec.Status)
}

func TestInactiveTelemetrySendsNothing(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.daemon.Start(context.Background()))
	time.Sleep(3 * testInterval)
	h.daemon.Stop()

	assert.Equal(t, int32(0), h.gateway.calls.Load())
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateUninitialized, h.daemon.State())

	h.daemon.Stop()
	assert.Equal(t, StateUninitialized, h.daemon.State())

	require.NoError(t, h.daemon.Start(context.Background()))
	require.NoError(t, h.daemon.Start(context.Background()))
	assert.Equal(t, int32(1), h.discovers.Load())

	h.daemon.Stop()
	h.daemon.Stop()
	assert.Equal(t, StateStopped, h.daemon.State())
}

func TestRestartRediscovers(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.daemon.Start(context.Background()))
	require.NoError(t, h.daemon.Restart(context.Background()))

	assert.Equal(t, StateRunning, h.daemon.State())
	assert.Equal(t, int32(2), h.discovers.Load())
}

func TestReloadRequestsCollapse(t *testing.T) {
	h := newHarness(t)

	h.daemon.ReloadSettings()
	h.daemon.ReloadSettings()
	h.daemon.ReloadSettings()
	assert.Len(t, h.daemon.reload, 1)

	// Start discovers anyway and drops the pending request
	require.NoError(t, h.daemon.Start(context.Background()))
	assert.Empty(t, h.daemon.reload)

	time.Sleep(3 * testInterval)
	assert.Equal(t, int32(1), h.discovers.Load())
}

func TestReloadAppliedWhileSleeping(t *testing.T) {
	h := newHarnessWithInterval(t, time.Hour)
	h.activate(t, map[string]bool{"cpu": true})

	require.NoError(t, h.daemon.Start(context.Background()))
	require.Eventually(t, func() bool {
		return h.gateway.calls.Load() == 1
	}, waitFor, tick)

	h.daemon.ReloadSettings()

	require.Eventually(t, func() bool {
		return h.discovers.Load() == 2
	}, waitFor, tick)

	// Rediscovery does not trigger an extra cycle
	time.Sleep(3 * testInterval)
	assert.Equal(t, int32(1), h.gateway.calls.Load())
}

func TestStopInterruptsInFlightSend(t *testing.T) {
	h := newHarness(t)
	h.gateway.block = true
	h.activate(t, map[string]bool{"cpu": true})

	require.NoError(t, h.daemon.Start(context.Background()))
	require.Eventually(t, func() bool {
		return h.gateway.calls.Load() == 1
	}, waitFor, tick)

	stopped := make(chan struct{})
	go func() {
		h.daemon.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(waitFor):
		t.Fatal("Stop did not interrupt the in-flight send")
	}

	rec, err := h.store.RetrieveSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, telemetry.StatusFailure, rec.Status)
	assert.Contains(t, rec.Info, "context canceled")
}

func TestGeoIPDiagnostics(t *testing.T) {
	h := newHarness(t,
		staticProvider{name: "freegeoip", err: fmt.Errorf("down")},
		staticProvider{name: "ipapi"},
	)
	assert.Equal(t, "", h.daemon.GeoIPServiceSelected())
	assert.Empty(t, h.daemon.GeoIPServicesURLMap())

	h.activate(t, map[string]bool{"location": true})
	require.NoError(t, h.daemon.Start(context.Background()))

	require.Eventually(t, func() bool {
		return h.daemon.GeoIPServiceSelected() == "ipapi"
	}, waitFor, tick)

	urls := h.daemon.GeoIPServicesURLMap()
	assert.Equal(t, map[string]string{"freegeoip": "http://geo.test/json/"}, urls)

	urls["freegeoip"] = "mutated"
	assert.Equal(t, "http://geo.test/json/", h.daemon.GeoIPServicesURLMap()["freegeoip"])

	assert.Equal(t, []string{"cpu", "location"}, h.daemon.CollectorIDs())
}

func TestValidateConsent(t *testing.T) {
	h := newHarness(t)

	require.Error(t, h.daemon.ValidateConsent(map[string]bool{"cpu": true}))

	require.NoError(t, h.daemon.Start(context.Background()))
	require.NoError(t, h.daemon.ValidateConsent(map[string]bool{"cpu": true}))

	require.NoError(t, h.daemon.ValidateConsent(map[string]bool{"cpu": true, "disk": false}))

	err := h.daemon.ValidateConsent(map[string]bool{"cpu": true, "disk": true})
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestRunOnce(t *testing.T) {
	h := newHarness(t)
	h.activate(t, map[string]bool{"cpu": true})

	outcome, err := h.daemon.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, telemetry.OutcomeSent, outcome)
	assert.Equal(t, int32(1), h.gateway.calls.Load())
	assert.Equal(t, StateUninitialized, h.daemon.State())
}

func TestStartFailsWhenDiscoveryFails(t *testing.T) {
	repo, err := telemetry.NewRepository(telemetry.Config{
		DBPath: filepath.Join(t.TempDir(), "telemetry.db"),
	}, logger.Get())
	require.NoError(t, err)
	defer repo.Close()

	d, err := New(Options{
		Store: telemetry.NewStore(repo),
		Discoverer: DiscoverFunc(func(context.Context) (*Discovery, error) {
			return nil, fmt.Errorf("no collectors")
		}),
	})
	require.NoError(t, err)

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, ErrDiscovery))
	assert.Equal(t, StateUninitialized, d.State())
}

func TestNewRequiresStoreAndDiscoverer(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestInstanceIsSingleton(t *testing.T) {
	repo, err := telemetry.NewRepository(telemetry.Config{
		DBPath: filepath.Join(t.TempDir(), "telemetry.db"),
	}, logger.Get())
	require.NoError(t, err)
	defer repo.Close()

	opts := Options{
		Store:      telemetry.NewStore(repo),
		Discoverer: DiscoverFunc(func(context.Context) (*Discovery, error) { return &Discovery{}, nil }),
	}

	var wg sync.WaitGroup
	got := make([]*Daemon, 4)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], _ = Instance(opts)
		}(i)
	}
	wg.Wait()

	require.NotNil(t, got[0])
	for _, d := range got {
		assert.Same(t, got[0], d)
	}
}

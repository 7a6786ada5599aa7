package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/hmsd/internal/admin"
	"codeberg.org/mutker/hmsd/internal/config"
	"codeberg.org/mutker/hmsd/internal/daemon"
	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/gpu"
	"codeberg.org/mutker/hmsd/internal/logger"
	"codeberg.org/mutker/hmsd/internal/metrics"
	"codeberg.org/mutker/hmsd/internal/pid"
	"codeberg.org/mutker/hmsd/internal/telemetry"
	"github.com/hashicorp/go-multierror"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

type app struct {
	cfg      *config.Config
	holder   *config.Holder
	repo     telemetry.Repository
	store    *telemetry.Store
	recorder metrics.Recorder
	daemon   *daemon.Daemon
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	applyLogLevel(cfg)
	logger.Debug().Str("file", cfg.ConfigFile).Msg("Config loaded")

	a, err := newApp(cfg)
	if err != nil {
		logger.FatalWithCode(errors.New().Wrap(errors.ErrInitApp, err)).Msg("Failed to initialize")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	switch {
	case cfg.Status:
		err = a.printStatus(ctx)
	case cfg.Enable:
		err = a.enable(ctx)
	case cfg.Disable:
		err = a.disable(ctx)
	case cfg.Once:
		err = a.once(ctx)
	default:
		go handleSignals(cancel, a.reloadConfig)
		err = a.serve(ctx)
	}

	if closeErr := a.close(); closeErr != nil {
		err = multierror.Append(err, closeErr).ErrorOrNil()
	}
	if err != nil {
		logger.ErrorWithCode(errors.New().Wrap(errors.ErrMainLoop, err)).Msg("Exiting with error")
		os.Exit(1)
	}
}

func applyLogLevel(cfg *config.Config) {
	if cfg.Debug || cfg.Verbose {
		return
	}
	if level, ok := logger.ParseLevel(cfg.LogLevel); ok {
		logger.SetLogLevel(level)
	}
}

func newApp(cfg *config.Config) (*app, error) {
	repo, err := telemetry.NewRepository(telemetry.Config{DBPath: cfg.Telemetry.DBPath}, logger.Get())
	if err != nil {
		return nil, err
	}

	recorder, err := metrics.NewService(metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Namespace: "hmsd",
	})
	if err != nil {
		repo.Close()
		return nil, err
	}

	holder := config.NewHolder(cfg)
	store := telemetry.NewStore(repo, telemetry.WithTestMode(cfg.Telemetry.TestMode))

	d, err := daemon.Instance(daemon.Options{
		Store: store,
		Discoverer: &daemon.ConfigDiscoverer{
			Config:  holder,
			Version: version,
			Started: time.Now(),
			GPU:     gpu.NewInspector(),
		},
		Interval:     cfg.Interval,
		CycleTimeout: cfg.CycleTimeout,
		Recorder:     recorder,
	})
	if err != nil {
		repo.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		holder:   holder,
		repo:     repo,
		store:    store,
		recorder: recorder,
		daemon:   d,
	}, nil
}

// serve runs the daemon until ctx is cancelled
func (a *app) serve(ctx context.Context) error {
	if err := pid.Write(a.cfg.PIDDir); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(a.cfg.PIDDir); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove PID file")
		}
	}()

	if err := a.daemon.Start(ctx); err != nil {
		return err
	}
	defer a.daemon.Stop()

	if a.cfg.ConfigFile != "" {
		if err := config.Watch(ctx, a.cfg, a.applyConfig); err != nil {
			logger.Warn().Err(err).Msg("Config file changes will not be picked up")
		}
	}

	var srv *admin.Server
	if a.cfg.Admin.Addr != "" {
		var err error
		h := admin.New(a.daemon, a.store, a.recorder.Handler())
		srv, err = admin.Listen(a.cfg.Admin.Addr, h.Router())
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Serve(); err != nil {
				logger.Error().Err(err).Msg("Admin server stopped")
			}
		}()
	}

	<-ctx.Done()

	if srv != nil {
		if err := srv.Shutdown(context.Background()); err != nil {
			return err
		}
	}

	return nil
}

func (a *app) applyConfig(next *config.Config) {
	a.holder.Set(next)
	applyLogLevel(next)
	a.daemon.ReloadSettings()
}

func (a *app) reloadConfig() {
	next, err := a.holder.Get().Reload()
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring invalid configuration on reload")
		return
	}
	logger.Info().Msg("Configuration reloaded")
	a.applyConfig(next)
}

func (a *app) printStatus(ctx context.Context) error {
	rec, err := a.store.RetrieveSettings(ctx)
	if errors.HasCode(err, telemetry.ErrSettingsNotFound) {
		fmt.Println("telemetry has not been configured")
		return nil
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	return nil
}

func (a *app) enable(ctx context.Context) error {
	if len(a.cfg.Consent) == 0 {
		return errors.New().WithMessage(errors.ErrMissingConfig, "no [consent] entries configured")
	}

	if err := a.daemon.Discover(ctx); err != nil {
		return err
	}
	if err := a.daemon.ValidateConsent(a.cfg.Consent); err != nil {
		return err
	}

	rec, err := a.store.Enable(ctx, a.cfg.Consent)
	if err != nil {
		return err
	}
	if err := a.store.Save(ctx, rec); err != nil {
		return err
	}

	logger.Info().Strs("collectors", rec.ConsentedIDs()).Msg("Telemetry enabled")

	return nil
}

func (a *app) disable(ctx context.Context) error {
	current, err := a.store.RetrieveOrBuild(ctx)
	if err != nil {
		return err
	}

	rec, err := a.store.Disable(ctx, current.Consent)
	if err != nil {
		return err
	}
	if err := a.store.Save(ctx, rec); err != nil {
		return err
	}

	logger.Info().Msg("Telemetry disabled")

	return nil
}

func (a *app) once(ctx context.Context) error {
	outcome, err := a.daemon.RunOnce(ctx)
	if err != nil {
		return err
	}

	fmt.Println(outcome)

	return nil
}

func (a *app) close() error {
	return a.repo.Close()
}

func handleSignals(cancel context.CancelFunc, reload func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			reload()
			continue
		}

		logger.Info().Msg("Received termination signal.")
		cancel()
		return
	}
}

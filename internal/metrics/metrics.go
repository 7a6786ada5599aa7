// Package metrics exposes daemon instrumentation to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type service struct {
	registry *prometheus.Registry

	cycles           *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	reloads          prometheus.Counter
	collectorFailure *prometheus.CounterVec
	sends            *prometheus.CounterVec
}

// No-op implementation
type noopRecorder struct{}

// NewService returns a Prometheus-backed Recorder on its own registry, or a
// no-op Recorder when metrics are disabled.
func NewService(cfg Config) (Recorder, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		logger.Debug().Msg("Metrics disabled, using no-op recorder")
		return &noopRecorder{}, nil
	}

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, errFactory.Wrap(ErrRegisterFailed, err)
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, errFactory.Wrap(ErrRegisterFailed, err)
	}

	factory := promauto.With(reg)
	s := &service{
		registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "telemetry",
			Name:      "cycles_total",
			Help:      "Telemetry cycles by outcome",
		}, []string{"outcome"}), // skipped, sent, simulated, failed
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: "telemetry",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full collect and send cycle",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		reloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "telemetry",
			Name:      "reloads_total",
			Help:      "Collector and provider rediscoveries applied by the daemon loop",
		}),
		collectorFailure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "telemetry",
			Name:      "collector_failures_total",
			Help:      "Consented collectors left out of a payload because they failed",
		}, []string{"collector"}),
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: "telemetry",
			Name:      "sends_total",
			Help:      "Payload deliveries by outcome",
		}, []string{"outcome"}),
	}

	logger.Debug().Str("namespace", cfg.Namespace).Msg("Metrics recorder initialized")

	return s, nil
}

func (s *service) CycleCompleted(outcome string, d time.Duration) {
	s.cycles.WithLabelValues(outcome).Inc()
	s.cycleDuration.Observe(d.Seconds())
}

func (s *service) ReloadApplied() {
	s.reloads.Inc()
}

func (s *service) CollectorFailed(id string) {
	s.collectorFailure.WithLabelValues(id).Inc()
}

func (s *service) SendCompleted(outcome string) {
	s.sends.WithLabelValues(outcome).Inc()
}

func (s *service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// No-op implementation
func (*noopRecorder) CycleCompleted(string, time.Duration) {}

func (*noopRecorder) ReloadApplied() {}

func (*noopRecorder) CollectorFailed(string) {}

func (*noopRecorder) SendCompleted(string) {}

func (*noopRecorder) Handler() http.Handler {
	return http.NotFoundHandler()
}

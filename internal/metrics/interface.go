package metrics

import (
	"net/http"
	"time"
)

// Recorder receives daemon and cycle observations
type Recorder interface {
	CycleCompleted(outcome string, d time.Duration)
	ReloadApplied()
	CollectorFailed(id string)
	SendCompleted(outcome string)
	// Handler serves the collected metrics in the Prometheus text format
	Handler() http.Handler
}

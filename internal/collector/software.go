package collector

import (
	"context"
	"runtime"
	"strconv"
	"time"
)

const SoftwareID = "software"

// Software reports the running build
type Software struct {
	version string
	started time.Time
	now     func() time.Time
}

func NewSoftware(version string, started time.Time) *Software {
	return &Software{
		version: version,
		started: started,
		now:     time.Now,
	}
}

func (*Software) ID() string {
	return SoftwareID
}

func (s *Software) Collect(_ context.Context) (map[string]string, error) {
	return map[string]string{
		"version":    s.version,
		"goVersion":  runtime.Version(),
		"uptime":     s.now().Sub(s.started).Truncate(time.Second).String(),
		"goroutines": strconv.Itoa(runtime.NumGoroutine()),
	}, nil
}

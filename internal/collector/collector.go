// Package collector defines the pluggable environment collectors and the
// registry that runs them.
package collector

import "context"

// Collector produces a flat string map describing one facet of the running
// environment.
type Collector interface {
	// ID is the stable identifier used in consent maps and payloads
	ID() string
	// Collect gathers the facet; it must not mutate the environment
	Collect(ctx context.Context) (map[string]string, error)
}

// Result maps collector id to the map that collector produced
type Result map[string]map[string]string

// Func adapts a function into a Collector
type Func struct {
	Name string
	Fn   func(ctx context.Context) (map[string]string, error)
}

func (f Func) ID() string {
	return f.Name
}

func (f Func) Collect(ctx context.Context) (map[string]string, error) {
	return f.Fn(ctx)
}

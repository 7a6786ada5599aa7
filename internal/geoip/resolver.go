package geoip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
	"github.com/hashicorp/go-multierror"
)

const defaultLookupTimeout = 10 * time.Second

// Resolver looks the location up through an ordered list of providers. The
// provider that last answered successfully is tried first; the others follow
// in configured order.
type Resolver struct {
	providers []Provider
	timeout   time.Duration

	mu       sync.RWMutex
	selected string
}

// NewResolver orders providers by order (names missing from order keep their
// relative position after the ordered ones) and starts with preferred as the
// selected provider when it is one of them.
func NewResolver(providers []Provider, order []string, timeout time.Duration, preferred string) *Resolver {
	if timeout <= 0 {
		timeout = defaultLookupTimeout
	}

	r := &Resolver{
		providers: sortProviders(providers, order),
		timeout:   timeout,
	}
	for _, p := range r.providers {
		if p.Name() == preferred {
			r.selected = preferred
		}
	}

	return r
}

func sortProviders(providers []Provider, order []string) []Provider {
	rank := make(map[string]int, len(order))
	for i, name := range order {
		if _, ok := rank[name]; !ok {
			rank[name] = i
		}
	}

	sorted := make([]Provider, 0, len(providers))
	for _, name := range order {
		for _, p := range providers {
			if p.Name() == name && !containsProvider(sorted, name) {
				sorted = append(sorted, p)
			}
		}
	}
	for _, p := range providers {
		if _, ok := rank[p.Name()]; !ok {
			sorted = append(sorted, p)
		}
	}

	return sorted
}

func containsProvider(providers []Provider, name string) bool {
	for _, p := range providers {
		if p.Name() == name {
			return true
		}
	}
	return false
}

// Selected returns the name of the last provider that answered, or ""
func (r *Resolver) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// Names returns the provider names in lookup order, ignoring stickiness
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

func (r *Resolver) candidates() []Provider {
	selected := r.Selected()
	if selected == "" {
		return r.providers
	}

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Name() == selected {
			out = append(out, p)
		}
	}
	for _, p := range r.providers {
		if p.Name() != selected {
			out = append(out, p)
		}
	}
	return out
}

// Locate returns the first successful lookup and the provider that served it.
// Each provider call is bounded by the resolver timeout.
func (r *Resolver) Locate(ctx context.Context) (Info, string, error) {
	errFactory := errors.New()

	if len(r.providers) == 0 {
		return Info{}, "", errFactory.New(ErrNoProviders)
	}

	var result *multierror.Error
	for _, p := range r.candidates() {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}

		info, err := r.lookup(ctx, p)
		if err != nil {
			logger.Debug().Err(err).Str("provider", p.Name()).Msg("Geo-IP lookup failed")
			result = multierror.Append(result, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}

		r.mu.Lock()
		r.selected = p.Name()
		r.mu.Unlock()

		return info, p.Name(), nil
	}

	return Info{}, "", errFactory.Wrap(ErrNetwork, errFactory.Wrap(ErrAllProvidersFail, result.ErrorOrNil()))
}

func (r *Resolver) lookup(ctx context.Context, p Provider) (Info, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	return p.RetrieveLocation(ctx)
}

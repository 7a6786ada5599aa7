package collector

import (
	"context"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
)

// Registry holds the collectors registered at startup, in registration order
type Registry struct {
	collectors []Collector
}

func NewRegistry(collectors ...Collector) *Registry {
	return &Registry{
		collectors: append([]Collector(nil), collectors...),
	}
}

// IDs returns the registered ids in registration order
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.collectors))
	for _, c := range r.collectors {
		ids = append(ids, c.ID())
	}
	return ids
}

// Has reports whether a collector with id is registered
func (r *Registry) Has(id string) bool {
	return r.find(id) != nil
}

func (r *Registry) find(id string) Collector {
	for _, c := range r.collectors {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// Collect runs the first collector registered under id. found is false, with
// a nil error, when nothing is registered under id.
func (r *Registry) Collect(ctx context.Context, id string) (data map[string]string, found bool, err error) {
	c := r.find(id)
	if c == nil {
		return nil, false, nil
	}

	data, err = c.Collect(ctx)
	if err != nil {
		return nil, true, collectionError(id, err)
	}

	return data, true, nil
}

// CollectMany runs every registered collector whose id is in ids. With
// ignoreErrors a failing collector is logged and left out of the result;
// without it the first failure aborts the batch before any later collector
// runs.
func (r *Registry) CollectMany(ctx context.Context, ids []string, ignoreErrors bool) (Result, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	result := make(Result, len(wanted))
	seen := make(map[string]struct{}, len(wanted))
	for _, c := range r.collectors {
		id := c.ID()
		if _, ok := wanted[id]; !ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		data, err := c.Collect(ctx)
		if err != nil {
			err = collectionError(id, err)
			if !ignoreErrors {
				return nil, err
			}

			logger.Warn().Err(err).Str("collector", id).Msg("Collector failed, omitting from payload")
			continue
		}

		if data == nil {
			data = map[string]string{}
		}
		result[id] = data
	}

	return result, nil
}

// Validate returns a configuration error naming the first id in ids that no
// registered collector serves.
func (r *Registry) Validate(ids []string) error {
	for _, id := range ids {
		if !r.Has(id) {
			return errors.New().WithData(ErrUnknown, id)
		}
	}
	return nil
}

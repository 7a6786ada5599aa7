package collector

import (
	"context"

	"codeberg.org/mutker/hmsd/internal/geoip"
)

const LocationID = "location"

// Locator resolves the installation's location; *geoip.Resolver implements it
type Locator interface {
	Locate(ctx context.Context) (geoip.Info, string, error)
}

// Location reports the approximate location of the installation
type Location struct {
	locator Locator
}

func NewLocation(locator Locator) *Location {
	return &Location{locator: locator}
}

func (*Location) ID() string {
	return LocationID
}

func (l *Location) Collect(ctx context.Context) (map[string]string, error) {
	info, provider, err := l.locator.Locate(ctx)
	if err != nil {
		return nil, err
	}

	data := info.Map()
	data["provider"] = provider

	return data, nil
}

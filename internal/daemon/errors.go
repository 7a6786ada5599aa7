package daemon

import "codeberg.org/mutker/hmsd/internal/errors"

const (
	ErrInvalidOptions = errors.ErrInvalidConfig
	ErrDiscovery      = errors.ErrDiscovery
	ErrCycle          = errors.ErrCycle
)

package geoip

import "codeberg.org/mutker/hmsd/internal/errors"

const (
	ErrNetwork          = errors.ErrNetworkFailed
	ErrNotConfigured    = errors.ErrProviderNotConfigured
	ErrNoProviders      = errors.ErrorCode("geoip_no_providers")
	ErrAllProvidersFail = errors.ErrorCode("geoip_all_providers_failed")
)

// requestFailure describes a failed provider call in error data
type requestFailure struct {
	Provider string
	Status   int
	Error    string
}

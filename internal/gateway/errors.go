package gateway

import "codeberg.org/mutker/hmsd/internal/errors"

const (
	ErrNetwork          = errors.ErrNetworkFailed
	ErrNoEndpoint       = errors.ErrInvalidConfig
	ErrBuildRequestFail = errors.ErrorCode("gateway_build_request_failed")
)

// sendFailure describes a rejected or failed delivery in error data
type sendFailure struct {
	Endpoint string
	Status   int
	Error    string
}

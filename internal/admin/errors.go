package admin

import "codeberg.org/mutker/hmsd/internal/errors"

const (
	ErrBadRequest   = errors.ErrInvalidArgument
	ErrServerFailed = errors.ErrorCode("admin_server_failed")
)

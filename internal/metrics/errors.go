package metrics

import "codeberg.org/mutker/hmsd/internal/errors"

const (
	ErrInvalidConfig    = errors.ErrInvalidConfig
	ErrInvalidNamespace = errors.ErrorCode("metrics_invalid_namespace")
	ErrRegisterFailed   = errors.ErrorCode("metrics_register_failed")
)

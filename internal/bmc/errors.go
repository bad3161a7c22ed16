package bmc

import "codeberg.org/mkern/rackfanctl/internal/errors"

const (
	// Failure taxonomy shared by both backends
	ErrConnectivity = errors.ErrConnectivity
	ErrAuth         = errors.ErrAuth
	ErrProtocol     = errors.ErrProtocol
	ErrParse        = errors.ErrParse
	ErrUnsupported  = errors.ErrUnsupported
	ErrTimeout      = errors.ErrTimeout

	// Validation errors
	ErrInvalidSpeed  = errors.ErrorCode("bmc_invalid_fan_speed")
	ErrInvalidConfig = errors.ErrInvalidConfig
)

package config

import "codeberg.org/teralab/teractl/internal/errors"

const (
	ErrInvalidTimeout      errors.ErrorCode = "config_invalid_timeout"
	ErrInvalidQuantum      errors.ErrorCode = "config_invalid_quantum"
	ErrInvalidSafetyMargin errors.ErrorCode = "config_invalid_safety_margin"
	ErrInvalidChannel      errors.ErrorCode = "config_invalid_channel"
	ErrNoConfigFile        errors.ErrorCode = "config_no_file"
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrInvalidTimeout:      "Timeout must be positive",
		ErrInvalidQuantum:      "Runner quantum must be positive",
		ErrInvalidSafetyMargin: "Field safety margin must be at least 1",
		ErrInvalidChannel:      "THz channel must be 1 or 2",
		ErrNoConfigFile:        "No configuration file to write",
	})
}

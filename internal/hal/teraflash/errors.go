package teraflash

import (
	"fmt"

	"codeberg.org/teralab/teractl/internal/errors"
)

const (
	ErrProbeFailed      errors.ErrorCode = "teraflash_probe_failed"
	ErrCommandRejected  errors.ErrorCode = "teraflash_command_rejected"
	ErrInvalidLength    errors.ErrorCode = "teraflash_invalid_length"
	ErrMalformedTrace   errors.ErrorCode = "teraflash_malformed_trace"
	ErrColumnMismatch   errors.ErrorCode = "teraflash_column_mismatch"
	ErrMissingColumn    errors.ErrorCode = "teraflash_missing_column"
	ErrInvalidChannel   errors.ErrorCode = "teraflash_invalid_channel"
	ErrAveragingTimeout errors.ErrorCode = "teraflash_averaging_timeout"
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrProbeFailed:      "THz system did not answer the RUN probe",
		ErrCommandRejected:  "THz system rejected command",
		ErrInvalidLength:    "Invalid trace payload length",
		ErrMalformedTrace:   "Malformed trace payload",
		ErrColumnMismatch:   "Trace column count does not match header",
		ErrMissingColumn:    "Trace column not found",
		ErrInvalidChannel:   "Channel is not supported by this instrument",
		ErrAveragingTimeout: "Timeout waiting for averaging to complete",
	})
}

// ParseError is returned by typed readers when the reply could not be
// converted. Raw holds the reply as received.
type ParseError struct {
	Command string
	Raw     string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s reply %q: %v", e.Command, e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

package runner

import "codeberg.org/teralab/teractl/internal/errors"

const (
	ErrAlreadyStarted   errors.ErrorCode = "runner_already_started"
	ErrSettleTimeout    errors.ErrorCode = "runner_settle_timeout"
	ErrAveragingTimeout errors.ErrorCode = "runner_averaging_timeout"
	ErrSinkFailed       errors.ErrorCode = "runner_sink_failed"
	ErrDumpFailed       errors.ErrorCode = "runner_dump_failed"
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrAlreadyStarted:   "Run already started",
		ErrSettleTimeout:    "Axis did not settle in time",
		ErrAveragingTimeout: "Averaging did not complete in time",
		ErrSinkFailed:       "Failed to persist captured data",
		ErrDumpFailed:       "Failed to write safe dump",
	})
}

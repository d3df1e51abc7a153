package data

import "codeberg.org/teralab/teractl/internal/errors"

const (
	ErrLengthMismatch  errors.ErrorCode = "data_length_mismatch"
	ErrEmptyWaveform   errors.ErrorCode = "data_empty_waveform"
	ErrInvalidSpectrum errors.ErrorCode = "data_invalid_spectrum"
	ErrRunFinalized    errors.ErrorCode = "data_run_finalized"
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrLengthMismatch:  "Time and signal lengths differ",
		ErrEmptyWaveform:   "Waveform has fewer than two samples",
		ErrInvalidSpectrum: "Invalid spectrum option",
		ErrRunFinalized:    "Run is already finalized",
	})
}

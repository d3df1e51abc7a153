package engine

import "codeberg.org/teralab/teractl/internal/errors"

const (
	ErrAlreadyConnecting errors.ErrorCode = "engine_already_connecting"
	ErrNoTHz             errors.ErrorCode = "engine_no_thz_instrument"
	ErrNoDevice          errors.ErrorCode = "engine_no_device"
	ErrWrongInstrument   errors.ErrorCode = "engine_wrong_instrument"
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrAlreadyConnecting: "Instrument is already connecting",
		ErrNoTHz:             "No THz instrument registered",
		ErrNoDevice:          "No matching device on controller",
		ErrWrongInstrument:   "Instrument does not support this operation",
	})
}

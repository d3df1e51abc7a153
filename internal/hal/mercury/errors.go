package mercury

import "codeberg.org/teralab/teractl/internal/errors"

const (
	ErrKindMismatch   errors.ErrorCode = "mercury_kind_mismatch"
	ErrUnknownDevice  errors.ErrorCode = "mercury_unknown_device"
	ErrInvalidReply   errors.ErrorCode = "mercury_invalid_reply"
	ErrWriteRejected  errors.ErrorCode = "mercury_write_rejected"
	ErrBadCatalogue   errors.ErrorCode = "mercury_bad_catalogue"
	ErrAlreadyConnect errors.ErrorCode = "mercury_already_connected"
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrKindMismatch:   "Device kind does not support this accessor",
		ErrUnknownDevice:  "No such device in the catalogue",
		ErrInvalidReply:   "Invalid reply from controller",
		ErrWriteRejected:  "Controller rejected write",
		ErrBadCatalogue:   "Could not read device catalogue",
		ErrAlreadyConnect: "Controller is already connected",
	})
}

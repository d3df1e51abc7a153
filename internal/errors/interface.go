package errors

// ErrorCode identifies a failure class. Codes are snake_case and prefixed
// with the owning package, e.g. "teraflash_protocol_error".
type ErrorCode string

func (c ErrorCode) String() string { return string(c) }

// Error is a coded error. Data carries the detail a caller may need to act
// on, such as the raw instrument reply.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	Data() any
	Unwrap() error
}

// Factory builds coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}

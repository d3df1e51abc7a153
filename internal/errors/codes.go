package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrNotImplemented  ErrorCode = "not_implemented"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig ErrorCode = "invalid_configuration"
	ErrMissingConfig ErrorCode = "missing_configuration"
	ErrBindFlags     ErrorCode = "bind_flags_failed"
	ErrReadConfig    ErrorCode = "read_config_failed"
	ErrWriteConfig   ErrorCode = "write_config_failed"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Resource errors
	ErrResourceBusy      ErrorCode = "resource_busy"
	ErrResourceNotFound  ErrorCode = "resource_not_found"
	ErrResourceExhausted ErrorCode = "resource_exhausted"

	// Instrument errors
	ErrNotConnected     ErrorCode = "instrument_not_connected"
	ErrConnectionFailed ErrorCode = "instrument_connection_failed"
	ErrConnectionClosed ErrorCode = "instrument_connection_closed"
	ErrProtocol         ErrorCode = "instrument_protocol_error"

	// Operation errors
	ErrOperationFailed  ErrorCode = "operation_failed"
	ErrTimeout          ErrorCode = "operation_timeout"
	ErrInvalidOperation ErrorCode = "invalid_operation"
	ErrAborted          ErrorCode = "operation_aborted"

	// Storage errors
	ErrInitStorage  ErrorCode = "init_storage_failed"
	ErrWriteStorage ErrorCode = "write_storage_failed"
	ErrCloseStorage ErrorCode = "close_storage_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:          "Internal error occurred",
	ErrInvalidArgument:   "Invalid argument provided",
	ErrNotImplemented:    "Operation not implemented",
	ErrUnavailable:       "Service unavailable",
	ErrAlreadyRunning:    "Another instance is already running",
	ErrInvalidConfig:     "Invalid configuration",
	ErrMissingConfig:     "Missing configuration",
	ErrBindFlags:         "Failed to bind flags",
	ErrReadConfig:        "Failed to read configuration",
	ErrWriteConfig:       "Failed to write configuration",
	ErrInvalidLogLevel:   "Invalid log level",
	ErrInitFailed:        "Initialization failed",
	ErrShutdownFailed:    "Shutdown failed",
	ErrResourceBusy:      "Resource is busy",
	ErrResourceNotFound:  "Resource not found",
	ErrResourceExhausted: "Resource exhausted",
	ErrNotConnected:      "Instrument not connected",
	ErrConnectionFailed:  "Failed to connect to instrument",
	ErrConnectionClosed:  "Connection closed by instrument",
	ErrProtocol:          "Instrument protocol error",
	ErrOperationFailed:   "Operation failed",
	ErrTimeout:           "Operation timed out",
	ErrInvalidOperation:  "Invalid operation",
	ErrAborted:           "Operation aborted",
	ErrInitStorage:       "Failed to initialize storage",
	ErrWriteStorage:      "Failed to write to storage",
	ErrCloseStorage:      "Failed to close storage",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}

// Register adds messages for package-specific error codes. Existing
// entries are left untouched.
func Register(messages map[ErrorCode]string) {
	for code, msg := range messages {
		if _, ok := errorMessages[code]; !ok {
			errorMessages[code] = msg
		}
	}
}

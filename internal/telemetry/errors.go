package telemetry

import "codeberg.org/teralab/teractl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidDBPath = errors.ErrorCode("telemetry_invalid_db_path")

	// Storage Errors
	ErrStorageAccess    = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageInit      = errors.ErrorCode("telemetry_storage_init_failed")
	ErrStorageClose     = errors.ErrorCode("telemetry_storage_close_failed")
	ErrSchemaInitFailed = errors.ErrorCode("telemetry_schema_init_failed")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrInvalidConfig:    "Invalid telemetry configuration",
		ErrInvalidDBPath:    "Invalid telemetry database path",
		ErrStorageAccess:    "Failed to access telemetry storage",
		ErrStorageInit:      "Failed to initialize telemetry storage",
		ErrStorageClose:     "Failed to close telemetry storage",
		ErrSchemaInitFailed: "Failed to initialize telemetry schema",
	})
}

package store

import "codeberg.org/teralab/teractl/internal/errors"

const (
	ErrInvalidPath = errors.ErrorCode("store_invalid_path")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("store_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("store_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("store_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("store_transaction_failed")

	// Storage Errors
	ErrStorageInit  = errors.ErrInitStorage
	ErrStorageWrite = errors.ErrWriteStorage
	ErrStorageClose = errors.ErrCloseStorage
	ErrUnknownRun   = errors.ErrorCode("store_unknown_run")
	ErrEncodeFailed = errors.ErrorCode("store_encode_failed")
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrInvalidPath:            "Invalid database path",
		ErrSchemaInitFailed:       "Failed to initialize database schema",
		ErrSchemaValidationFailed: "Failed to validate database schema",
		ErrSchemaMigrationFailed:  "Failed to migrate database schema",
		ErrTransactionFailed:      "Database transaction failed",
		ErrUnknownRun:             "Run was not opened in this store",
		ErrEncodeFailed:           "Failed to encode record",
	})
}

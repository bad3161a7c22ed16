package inventory

import "codeberg.org/mkern/rackfanctl/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("inventory_invalid_db_path")

	// Server Errors
	ErrServerNotFound = errors.ErrorCode("inventory_server_not_found")
	ErrInvalidServer  = errors.ErrorCode("inventory_invalid_server")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("inventory_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("inventory_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("inventory_schema_migration_failed")
	ErrTransactionFailed      = errors.ErrorCode("inventory_transaction_failed")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("inventory_storage_access_failed")
	ErrStorageInit   = errors.ErrInitFailed
	ErrStorageClose  = errors.ErrShutdownFailed
)

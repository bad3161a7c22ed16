package secrets

import "codeberg.org/mkern/rackfanctl/internal/errors"

const (
	// Lookup Errors
	ErrNotFound = errors.ErrorCode("secrets_not_found")

	// Storage Errors
	ErrInvalidKey        = errors.ErrorCode("secrets_invalid_key")
	ErrStorageAccess     = errors.ErrorCode("secrets_storage_access_failed")
	ErrMissingPassphrase = errors.ErrorCode("secrets_missing_passphrase")
)

package telemetry

import "codeberg.org/mutker/hmsd/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrInvalidDBPath = errors.ErrorCode("telemetry_invalid_db_path")

	// Record Errors
	ErrSettingsNotFound = errors.ErrorCode("telemetry_settings_not_found")
	ErrInvalidRecord    = errors.ErrorCode("telemetry_invalid_record")

	// Storage Errors
	ErrStorageAccess = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageInit   = errors.ErrorCode("telemetry_storage_init_failed")
	ErrStorageClose  = errors.ErrorCode("telemetry_storage_close_failed")

	// Schema Errors
	ErrSchemaInitFailed       = errors.ErrorCode("telemetry_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("telemetry_schema_validation_failed")
	ErrSchemaMigrationFailed  = errors.ErrorCode("telemetry_schema_migration_failed")

	// Dispatch Errors
	ErrEncodePayload = errors.ErrorCode("telemetry_encode_payload_failed")
	ErrNetwork       = errors.ErrNetworkFailed
)

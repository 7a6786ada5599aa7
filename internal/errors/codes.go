package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrMissingConfig   ErrorCode = "missing_configuration"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Application errors
	ErrInitApp   ErrorCode = "init_app_failed"
	ErrMainLoop  ErrorCode = "main_loop_failed"
	ErrCycle     ErrorCode = "telemetry_cycle_failed"
	ErrDiscovery ErrorCode = "discovery_failed"

	// Telemetry taxonomy
	ErrCollectionFailed      ErrorCode = "collection_failed"
	ErrNetworkFailed         ErrorCode = "network_failed"
	ErrUnknownCollector      ErrorCode = "unknown_collector"
	ErrProviderNotConfigured ErrorCode = "provider_not_configured"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:              "Internal error occurred",
	ErrInvalidArgument:       "Invalid argument provided",
	ErrInvalidConfig:         "Invalid configuration",
	ErrMissingConfig:         "Missing configuration",
	ErrBindFlags:             "Failed to bind flags",
	ErrReadConfig:            "Failed to read config file",
	ErrInvalidLogLevel:       "Invalid log level",
	ErrInitFailed:            "Initialization failed",
	ErrShutdownFailed:        "Shutdown failed",
	ErrAlreadyRunning:        "Another instance is already running",
	ErrInvalidInterval:       "Invalid interval value",
	ErrInitApp:               "Failed to initialize application",
	ErrMainLoop:              "Error in main loop",
	ErrCycle:                 "Telemetry cycle failed",
	ErrDiscovery:             "Failed to discover collectors and providers",
	ErrCollectionFailed:      "Collector failed to produce data",
	ErrNetworkFailed:         "Remote endpoint unreachable or rejected the request",
	ErrUnknownCollector:      "Unknown collector id",
	ErrProviderNotConfigured: "No base URL configured for provider",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}

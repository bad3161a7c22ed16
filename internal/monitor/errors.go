package monitor

import "codeberg.org/mkern/rackfanctl/internal/errors"

const (
	// Registry Errors
	ErrDuplicateServer = errors.ErrorCode("monitor_duplicate_server")
	ErrUnknownServer   = errors.ErrorCode("monitor_unknown_server")
	ErrAlreadyRunning  = errors.ErrorCode("monitor_already_running")
	ErrNotRunning      = errors.ErrorCode("monitor_not_running")
	ErrNoServers       = errors.ErrorCode("monitor_no_servers")

	// Command Errors
	ErrServerBusy  = errors.ErrResourceBusy
	ErrBackendInit = errors.ErrInitFailed
)

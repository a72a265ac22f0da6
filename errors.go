package spdklog

import "github.com/alpacahq/spdklog/internal/logerr"

// Typed error taxonomy (spec §7). Each is a distinct exported type so
// callers can discriminate with errors.As; they are defined in
// internal/logerr and aliased here because both this package and
// internal/persistpool need to raise them without importing each other.
type (
	VersionRegressionError  = logerr.VersionRegressionError
	LogFullError            = logerr.LogFullError
	NotFoundError           = logerr.NotFoundError
	MetadataLoadFailedError = logerr.MetadataLoadFailedError
	DeviceIOError           = logerr.DeviceIOError
	LockInitFailedError     = logerr.LockInitFailedError
)

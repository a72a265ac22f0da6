// Package logerr defines the typed error taxonomy shared by internal/persistpool
// and the spdklog facade (spec §7). It lives below both so neither has to
// import the other just to classify a failure; the style of one exported
// struct type per failure mode, each satisfying error, is grounded on
// marketstore's executor/errors.go and catalog/errors.go.
package logerr

import "fmt"

// VersionRegressionError is returned when an Append or AdvanceVersion
// targets a version that is not strictly greater than the log's current
// version (Last): the facade checks metadata.ver, the persist pool its last
// written version.
type VersionRegressionError struct {
	LogID int32
	Got   int64
	Last  int64
}

func (e *VersionRegressionError) Error() string {
	return fmt.Sprintf("logerr: log %d: version %d is not greater than last written version %d", e.LogID, e.Got, e.Last)
}

// LogFullError is returned when a log has exhausted its entry-space or
// data-space address table (spec §4.2's TableLength bound).
type LogFullError struct {
	LogID int32
}

func (e *LogFullError) Error() string {
	return fmt.Sprintf("logerr: log %d is full", e.LogID)
}

// NotFoundError is returned when a requested index, version, or HLC does
// not identify any live entry in the log.
type NotFoundError struct {
	LogID int32
	Key   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("logerr: log %d: %s not found", e.LogID, e.Key)
}

// MetadataLoadFailedError is returned when a log's root record cannot be
// loaded or created from the reserved metadata region.
type MetadataLoadFailedError struct {
	Name string
	Err  error
}

func (e *MetadataLoadFailedError) Error() string {
	return fmt.Sprintf("logerr: metadata load failed for %q: %v", e.Name, e.Err)
}

func (e *MetadataLoadFailedError) Unwrap() error { return e.Err }

// DeviceIOError wraps a failure from the underlying block device.
type DeviceIOError struct {
	Op  string
	Err error
}

func (e *DeviceIOError) Error() string {
	return fmt.Sprintf("logerr: device I/O failed during %s: %v", e.Op, e.Err)
}

func (e *DeviceIOError) Unwrap() error { return e.Err }

// LockInitFailedError is returned when a log's head/tail locks cannot be
// initialized, spec §5's "LockInitFailed" condition.
type LockInitFailedError struct {
	Err error
}

func (e *LockInitFailedError) Error() string {
	return fmt.Sprintf("logerr: lock initialization failed: %v", e.Err)
}

func (e *LockInitFailedError) Unwrap() error { return e.Err }

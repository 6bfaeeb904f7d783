package influxdb

import "errors"

// Sentinel errors; check with errors.Is.
var (
	ErrNotConnected     = errors.New("influxdb: not connected")
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled means the influxdb section is not enabled.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)

package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when relay statistics are turned off.
	ErrDisabled = errors.New("influxdb: relay statistics disabled")

	// ErrConnectionFailed is returned by Connect when the server does not
	// answer a ping or reports itself unhealthy.
	ErrConnectionFailed = errors.New("influxdb: server unreachable")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: stats sink closed")

	// ErrWriteFailed wraps asynchronous batch failures handed to the
	// callback given to Connect.
	ErrWriteFailed = errors.New("influxdb: relay stats write failed")
)

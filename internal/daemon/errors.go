package daemon

import "errors"

var (
	// ErrProcessStartFailed indicates the engine binary could not be
	// spawned.
	ErrProcessStartFailed = errors.New("process start failed")
	// ErrProcessManagement indicates the engine exited unexpectedly while
	// under supervision.
	ErrProcessManagement = errors.New("process management error")
	// ErrDaemonUnavailable indicates the engine never answered RPC within
	// the readiness window.
	ErrDaemonUnavailable = errors.New("aria2 daemon unavailable")
	// ErrRestartLimitExceeded indicates the monitor gave up restarting
	// the engine.
	ErrRestartLimitExceeded = errors.New("maximum restart attempts exceeded")
)

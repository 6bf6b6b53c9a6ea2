// Package daemon supervises the embedded aria2 engine: binary
// provisioning, process lifecycle, health monitoring with bounded
// restarts, and RPC readiness.
package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/burncloud/fetchd/internal/aria2"
	"github.com/burncloud/fetchd/internal/platform"
)

// Config controls the supervised engine instance.
type Config struct {
	// RPCPort is the preferred control-plane port. If occupied, the next
	// bindable port is used and the value is rewritten.
	RPCPort int
	// RPCSecret is shared with the engine via --rpc-secret. The default
	// is insecure and must be overridden in production.
	RPCSecret string
	// DownloadDir is the engine's default output directory.
	DownloadDir string
	// SessionFile is where the engine persists its own session state.
	SessionFile string
	// MaxRestartAttempts caps consecutive monitor-initiated restarts.
	MaxRestartAttempts int
	// HealthCheckInterval is the liveness probe period.
	HealthCheckInterval time.Duration
}

// DefaultConfig returns the stock configuration rooted in the per-OS
// install directory.
func DefaultConfig() Config {
	install := platform.InstallDir()
	return Config{
		RPCPort:             6800,
		RPCSecret:           aria2.DefaultSecret,
		DownloadDir:         filepath.Join(install, "downloads"),
		SessionFile:         filepath.Join(install, "aria2.session"),
		MaxRestartAttempts:  10,
		HealthCheckInterval: 10 * time.Second,
	}
}

// ConfigFromEnv overlays FETCHD_* environment variables onto the
// defaults. Recognized: FETCHD_RPC_PORT, FETCHD_RPC_SECRET,
// FETCHD_DOWNLOAD_DIR, FETCHD_SESSION_FILE, FETCHD_MAX_RESTARTS,
// FETCHD_HEALTH_INTERVAL_SEC.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv("FETCHD_RPC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			cfg.RPCPort = p
		}
	}
	if v := os.Getenv("FETCHD_RPC_SECRET"); v != "" {
		cfg.RPCSecret = v
	}
	if v := os.Getenv("FETCHD_DOWNLOAD_DIR"); v != "" {
		cfg.DownloadDir = v
	}
	if v := os.Getenv("FETCHD_SESSION_FILE"); v != "" {
		cfg.SessionFile = v
	}
	if v := os.Getenv("FETCHD_MAX_RESTARTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxRestartAttempts = n
		}
	}
	if v := os.Getenv("FETCHD_HEALTH_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HealthCheckInterval = time.Duration(n) * time.Second
		}
	}
	return cfg
}

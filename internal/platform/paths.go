// Package platform resolves per-OS filesystem locations for the managed
// aria2 installation.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
)

// InstallDir returns the directory the aria2 binary is installed into.
func InstallDir() string {
	switch runtime.GOOS {
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "BurnCloud")
		}
		return filepath.Join(`C:\`, "BurnCloud")
	default:
		if home, err := os.UserHomeDir(); err == nil && home != "" {
			return filepath.Join(home, ".burncloud")
		}
		return filepath.Join(os.TempDir(), ".burncloud")
	}
}

// ExecutableName returns the aria2 binary name for the current OS.
func ExecutableName() string {
	if runtime.GOOS == "windows" {
		return "aria2c.exe"
	}
	return "aria2c"
}

// ExecutablePath returns the full path the aria2 binary is expected at.
func ExecutablePath() string {
	return filepath.Join(InstallDir(), ExecutableName())
}

// EnsureDir creates dir and any missing parents. It is idempotent.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

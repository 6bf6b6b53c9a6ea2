//go:build !windows

package platform

import "os"

// MarkExecutable sets owner/group/other execute bits on the binary.
func MarkExecutable(path string) error {
	return os.Chmod(path, 0o755)
}

//go:build windows

package platform

// MarkExecutable is a no-op on Windows; execution rights come from the
// file extension.
func MarkExecutable(path string) error {
	return nil
}

//go:build windows

package daemon

import "os"

// terminate kills the child; Windows has no polite signal to deliver to
// a console-less process.
func terminate(proc *os.Process) error {
	return proc.Kill()
}

// Package netutil provides TCP port arbitration for the embedded engine.
package netutil

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoAvailablePort is returned when no bindable port exists in the
// searched range.
var ErrNoAvailablePort = errors.New("no available port")

const maxPort = 65535

// IsBindable reports whether a TCP listener can be bound on
// 127.0.0.1:port. The probe listener is released immediately.
func IsBindable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// FindAvailable returns the smallest bindable port p with p >= start,
// searching up to 65535.
func FindAvailable(start int) (int, error) {
	if start < 1 {
		start = 1
	}
	for p := start; p <= maxPort; p++ {
		if IsBindable(p) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: searched %d-%d", ErrNoAvailablePort, start, maxPort)
}

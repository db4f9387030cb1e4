// Package ports probes loopback TCP ports for availability.
package ports

import (
	"errors"
	"fmt"
	"net"
)

// scanWindow bounds how far past the starting port the scan may go.
const scanWindow = 1000

// ErrNoPortsAvailable is returned when the scan window is exhausted.
var ErrNoPortsAvailable = errors.New("could not find enough available ports")

// IsAvailable reports whether a loopback TCP bind on port succeeds.
// There is no reservation: a port can be taken between the probe and use.
func IsAvailable(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// Find scans forward from start until count free ports are found.
func Find(start, count int) ([]int, error) {
	var found []int
	for port := start; port <= start+scanWindow; port++ {
		if IsAvailable(port) {
			found = append(found, port)
			if len(found) == count {
				return found, nil
			}
		}
	}
	return nil, ErrNoPortsAvailable
}

// Package netutil holds small networking helpers shared by the services.
package netutil

import (
	"net"
	"os"
)

// HostIP returns the local IP address external clients would use to reach
// this host. The UDP dial never sends a packet; it only selects the
// outbound interface. Falls back to hostname resolution, then loopback.
func HostIP() string {
	if conn, err := net.Dial("udp", "8.8.8.8:80"); err == nil {
		addr := conn.LocalAddr().(*net.UDPAddr)
		_ = conn.Close()
		return addr.IP.String()
	}

	if hostname, err := os.Hostname(); err == nil {
		if addrs, err := net.LookupHost(hostname); err == nil {
			for _, a := range addrs {
				if a != "127.0.0.1" && a != "::1" {
					return a
				}
			}
		}
	}

	return "127.0.0.1"
}

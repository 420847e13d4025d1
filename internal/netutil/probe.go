// Package netutil provides internal network helpers for the CLI.
package netutil

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HostPort extracts a dialable host and port from an endpoint that is
// either a bare hostname or a full URL. port is the fallback when the
// endpoint does not carry its own.
func HostPort(endpoint string, port int) (string, int, error) {
	host := endpoint
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return "", 0, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
		}
		host = u.Hostname()
		if p := u.Port(); p != "" {
			n, err := strconv.Atoi(p)
			if err != nil {
				return "", 0, fmt.Errorf("invalid port in endpoint %q: %w", endpoint, err)
			}
			port = n
		}
	}
	if host == "" {
		return "", 0, fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	return host, port, nil
}

// IsPortOpen checks if a TCP port is accessible within the given timeout.
func IsPortOpen(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

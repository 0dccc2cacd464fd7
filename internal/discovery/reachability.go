// Package discovery performs bounded network reachability checks so a
// Supervisor can classify a dead host as a Transient error quickly, instead
// of waiting out a full SSH or MQTT dial timeout on a connection that was
// never going to succeed.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/acproxycam/acproxycam/internal/logging"
)

var log = logging.L("discovery")

// Reachable dials host:port with a short timeout and reports whether a TCP
// connection could be established. It does not send or read any
// application data — a successful dial is enough to distinguish "host is
// down or firewalled" from "host is up but the service refused us".
func Reachable(ctx context.Context, host string, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		log.Debug("reachability probe failed", "addr", addr, "error", err)
		return false
	}
	conn.Close()
	return true
}

// ReachableAny returns true as soon as any of the given ports responds,
// used when a printer exposes more than one candidate port (SSH and the
// web API port) and any one of them answering is enough to call the host up.
func ReachableAny(ctx context.Context, host string, ports []int, timeout time.Duration) bool {
	for _, port := range ports {
		if Reachable(ctx, host, port, timeout) {
			return true
		}
	}
	return false
}

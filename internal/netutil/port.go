// Package netutil picks listening ports for the proxy and the bundler.
package netutil

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Listen binds host:preferred, or an OS-assigned port on host when the
// preferred one is taken. A preferred port of 0 always asks the OS.
func Listen(host string, preferred int) (net.Listener, error) {
	if preferred > 0 {
		if ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(preferred))); err == nil {
			return ln, nil
		}
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("no free port on %s: %w", host, err)
	}

	return ln, nil
}

// FreePort is Listen for callers that must bind the port themselves. The
// port is released before returning, so another process may take it first.
func FreePort(host string, preferred int) (int, error) {
	ln, err := Listen(host, preferred)
	if err != nil {
		return 0, err
	}

	port := Port(ln.Addr())

	if err := ln.Close(); err != nil {
		return 0, fmt.Errorf("releasing port %d: %w", port, err)
	}

	return port, nil
}

// Port extracts the TCP port from addr, or 0 when addr is not TCP.
func Port(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}

	return 0
}

// WaitReady dials addr until it accepts a connection or timeout elapses.
// stop, when non-nil, aborts the wait early with its error.
func WaitReady(ctx context.Context, addr string, timeout time.Duration, stop <-chan error) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-stop:
			if err == nil {
				err = fmt.Errorf("exited before listening on %s", addr)
			}

			return err
		default:
		}

		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		time.Sleep(20 * time.Millisecond)
	}

	return fmt.Errorf("timeout waiting for %s", addr)
}

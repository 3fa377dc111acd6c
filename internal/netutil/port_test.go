package netutil

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopbackListener(t *testing.T) net.Listener {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping network-bound test: cannot bind loopback socket: %v", err)
	}

	t.Cleanup(func() { _ = ln.Close() })

	return ln
}

func TestListen_PreferredPortFree(t *testing.T) {
	port, err := FreePort("127.0.0.1", 0)
	if err != nil {
		t.Skipf("skipping network-bound test: %v", err)
	}

	ln, err := Listen("127.0.0.1", port)
	require.NoError(t, err)
	defer ln.Close()

	assert.Equal(t, port, Port(ln.Addr()))
}

func TestListen_PreferredPortBusyFallsBack(t *testing.T) {
	busy := loopbackListener(t)
	busyPort := Port(busy.Addr())

	ln, err := Listen("127.0.0.1", busyPort)
	require.NoError(t, err)
	defer ln.Close()

	assert.NotEqual(t, busyPort, Port(ln.Addr()))
	assert.NotZero(t, Port(ln.Addr()))
}

func TestFreePort_ReleasesPort(t *testing.T) {
	port, err := FreePort("127.0.0.1", 0)
	if err != nil {
		t.Skipf("skipping network-bound test: %v", err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	_ = ln.Close()
}

func TestPort_NonTCP(t *testing.T) {
	assert.Zero(t, Port(&net.UnixAddr{Name: "/tmp/sock", Net: "unix"}))
}

func TestWaitReady_Listening(t *testing.T) {
	ln := loopbackListener(t)
	assert.NoError(t, WaitReady(context.Background(), ln.Addr().String(), time.Second, nil))
}

func TestWaitReady_Timeout(t *testing.T) {
	port, err := FreePort("127.0.0.1", 0)
	if err != nil {
		t.Skipf("skipping network-bound test: %v", err)
	}

	err = WaitReady(context.Background(), net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 150*time.Millisecond, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting")
}

func TestWaitReady_Stopped(t *testing.T) {
	port, err := FreePort("127.0.0.1", 0)
	if err != nil {
		t.Skipf("skipping network-bound test: %v", err)
	}

	stop := make(chan error, 1)
	stop <- errors.New("process died")

	err = WaitReady(context.Background(), net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second, stop)
	assert.EqualError(t, err, "process died")
}

func TestWaitReady_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitReady(ctx, "127.0.0.1:1", time.Second, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

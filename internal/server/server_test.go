package server

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbd-go/adbd/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	addr, err := netip.ParseAddrPort("127.0.0.1:0")
	require.NoError(t, err)
	return &config.Config{Addr: addr, LogStdout: false}
}

// startServer binds an ephemeral port, starts Run in the background, and
// returns the bound address plus a stop func that cancels the server and
// waits for Run to return.
func startServer(t *testing.T) (string, func()) {
	t.Helper()
	s, err := New(testConfig(t))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", s.Addr)
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	s.Addr = addr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, time.Second, 10*time.Millisecond, "server never started accepting")

	return addr, func() {
		cancel()
		<-done
	}
}

func TestServerServesHostVersion(t *testing.T) {
	addr, stop := startServer(t)
	defer stop()

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte("000chost:version"))
	require.NoError(t, err)

	buf := make([]byte, 8)
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = readFull(c, buf)
	require.NoError(t, err)
	assert.Equal(t, "OKAY0029", string(buf))
}

func TestServerShutdownRefusesNewConnections(t *testing.T) {
	addr, stop := startServer(t)
	stop()

	_, err := net.Dial("tcp", addr)
	assert.Error(t, err)
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

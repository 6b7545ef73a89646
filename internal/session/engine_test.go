package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbd-go/adbd/internal/metricsx"
	"github.com/adbd-go/adbd/internal/router"
)

func newTestEngine(t *testing.T, setup func(rt *router.Router)) (*Engine, net.Conn) {
	t.Helper()
	rt := router.New()
	setup(rt)

	client, serverConn := net.Pipe()
	t.Cleanup(func() { client.Close() })

	e := &Engine{
		Router:  rt,
		Metrics: metricsx.New(),
	}
	go e.Serve(context.Background(), serverConn)
	return e, client
}

func readN(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := readFull(c, buf)
	require.NoError(t, err)
	return buf
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

func TestEngineOkayWithBody(t *testing.T) {
	_, client := newTestEngine(t, func(rt *router.Router) {
		rt.Register("host:version", func(ctx context.Context) (router.Response, error) {
			return router.OKBody([]byte("0029")), nil
		})
	})

	_, err := client.Write([]byte("000chost:version"))
	require.NoError(t, err)

	got := readN(t, client, 8)
	assert.Equal(t, "OKAY0029", string(got))
}

func TestEngineFailUnknownRoute(t *testing.T) {
	_, client := newTestEngine(t, func(rt *router.Router) {})

	_, err := client.Write([]byte("0008host:foo"))
	require.NoError(t, err)

	got := readN(t, client, len("FAIL")+4+len(router.ErrNoMatch))
	assert.Equal(t, "FAIL0015unsupported operation", string(got))
}

func TestEngineKeepAliveLoops(t *testing.T) {
	calls := 0
	_, client := newTestEngine(t, func(rt *router.Router) {
		rt.Register("host:version", func(ctx context.Context) (router.Response, error) {
			calls++
			return router.KeepAliveOK(), nil
		})
	})

	for i := 0; i < 2; i++ {
		_, err := client.Write([]byte("000chost:version"))
		require.NoError(t, err)
		got := readN(t, client, 4)
		assert.Equal(t, "OKAY", string(got))
	}
	assert.Equal(t, 2, calls)
}

func TestEngineHandlerErrorBeforeWriteBecomesFail(t *testing.T) {
	_, client := newTestEngine(t, func(rt *router.Router) {
		rt.Register("host:boom", func(ctx context.Context) (router.Response, error) {
			return router.Response{}, assertErr{}
		})
	})

	_, err := client.Write([]byte("0009host:boom"))
	require.NoError(t, err)

	got := make([]byte, 4)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = readFull(client, got)
	require.NoError(t, err)
	assert.Equal(t, "FAIL", string(got))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

package sync

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adbd-go/adbd/internal/fs"
	"github.com/adbd-go/adbd/internal/framecodec"
	"github.com/adbd-go/adbd/internal/metricsx"
	"github.com/adbd-go/adbd/internal/router"
	"github.com/adbd-go/adbd/internal/session"
)

// runSync dispatches "sync:" through a real Engine over a net.Pipe so the
// handler sees a genuine ambient Session.
func runSync(t *testing.T, svc *Service) net.Conn {
	t.Helper()
	rt := router.New()
	rt.RegisterObject(svc)

	client, serverConn := net.Pipe()
	t.Cleanup(func() { client.Close() })

	e := &session.Engine{Router: rt, Metrics: metricsx.New()}
	go e.Serve(context.Background(), serverConn)
	return client
}

func readExact(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	total := 0
	for total < n {
		m, err := c.Read(buf[total:])
		total += m
		require.NoError(t, err)
	}
	return buf
}

func TestSyncSendRecvRoundTrip(t *testing.T) {
	svc := &Service{FS: fs.NewLocal(t.TempDir()), Metrics: metricsx.New()}
	client := runSync(t, svc)

	// sync:
	_, err := client.Write([]byte("0005sync:"))
	require.NoError(t, err)
	assert.Equal(t, "OKAY", string(readExact(t, client, 4)))

	// SEND "/x,33206"
	require.NoError(t, framecodec.WriteSyncFrame(client, "SEND", []byte("/x,33206")))
	require.NoError(t, framecodec.WriteSyncFrame(client, "DATA", []byte("abc")))
	mtime := uint32(1700000000)
	require.NoError(t, framecodec.WriteSyncDone(client, mtime))

	id, payload, err := framecodec.ReadSyncFrame(client)
	require.NoError(t, err)
	assert.Equal(t, "OKAY", id)
	assert.Empty(t, payload)

	// RECV "/x"
	require.NoError(t, framecodec.WriteSyncFrame(client, "RECV", []byte("/x")))
	id, payload, err = framecodec.ReadSyncFrame(client)
	require.NoError(t, err)
	assert.Equal(t, "DATA", id)
	assert.Equal(t, []byte("abc"), payload)

	id, _, err = framecodec.ReadSyncFrame(client)
	require.NoError(t, err)
	assert.Equal(t, "DONE", id)

	st, err := svc.FS.Stat("/x")
	require.NoError(t, err)
	assert.EqualValues(t, mtime, st.Mtime)

	require.NoError(t, framecodec.WriteSyncFrame(client, "QUIT", nil))
}

func TestSyncListEmptyYieldsOnlyDone(t *testing.T) {
	svc := &Service{FS: fs.NewLocal(t.TempDir()), Metrics: metricsx.New()}
	client := runSync(t, svc)

	_, err := client.Write([]byte("0005sync:"))
	require.NoError(t, err)
	readExact(t, client, 4)

	require.NoError(t, framecodec.WriteSyncFrame(client, "LIST", []byte(".")))
	id, _, err := framecodec.ReadSyncFrame(client)
	require.NoError(t, err)
	assert.Equal(t, "DONE", id)
}

func TestSyncStatMissingReturnsZeroed(t *testing.T) {
	svc := &Service{FS: fs.NewLocal(t.TempDir()), Metrics: metricsx.New()}
	client := runSync(t, svc)

	_, err := client.Write([]byte("0005sync:"))
	require.NoError(t, err)
	readExact(t, client, 4)

	require.NoError(t, framecodec.WriteSyncFrame(client, "STAT", []byte("missing")))
	id, payload, err := framecodec.ReadSyncFrame(client)
	require.NoError(t, err)
	assert.Equal(t, "STAT", id)
	assert.Equal(t, make([]byte, 12), payload)
}

func TestSyncPathTooLong(t *testing.T) {
	svc := &Service{FS: fs.NewLocal(t.TempDir()), Metrics: metricsx.New()}
	client := runSync(t, svc)

	_, err := client.Write([]byte("0005sync:"))
	require.NoError(t, err)
	readExact(t, client, 4)

	longPath := make([]byte, 1025)
	for i := range longPath {
		longPath[i] = 'a'
	}
	require.NoError(t, framecodec.WriteSyncFrame(client, "STAT", longPath))
	id, payload, err := framecodec.ReadSyncFrame(client)
	require.NoError(t, err)
	assert.Equal(t, "FAIL", id)
	assert.Equal(t, "path too long", string(payload))
}

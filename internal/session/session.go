// Package session implements the per-connection session state machine: read
// one smart-socket request, resolve it through the router, honor the
// resulting disposition, and loop or terminate.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/adbd-go/adbd/internal/router"
)

// Device is the opaque "selected device" handle a Session lazily resolves
// from a DeviceManager. The concrete transport/device-manager implementation
// is a collaborator outside this module's scope; adbd-go only needs a
// stable handle to carry through handlers.
type Device interface {
	Serial() string
}

// DeviceManager resolves the device a session should operate against. It is
// a deliberately small seam: the real transport/device-discovery layer is a
// collaborator, not part of this module.
type DeviceManager interface {
	SelectedDevice(ctx context.Context) (Device, error)
}

// Session exists for the lifetime of one TCP connection. It owns the
// reader/writer pair, the lazily resolved device handle, and the
// cancellation signal for everything the connection's handlers started.
type Session struct {
	conn   net.Conn
	reader io.Reader
	writer *trackingWriter
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	deviceManager DeviceManager
	deviceOnce    sync.Once
	device        Device
	deviceErr     error

	shutdown      func()
	killRequested bool
}

// trackingWriter remembers whether any bytes have been written, so the
// engine can tell whether it's still safe to emit a FAIL after a handler
// error.
type trackingWriter struct {
	w           io.Writer
	written     bool
	disposition router.Disposition
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		t.written = true
	}
	return t.w.Write(p)
}

// newSession creates a Session bound to conn, deriving its cancellation context
// from parent (typically the process-wide shutdown context) and wiring
// shutdown as the callback host:kill invokes.
func newSession(parent context.Context, conn net.Conn, logger zerolog.Logger, dm DeviceManager, shutdown func()) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		conn:          conn,
		reader:        conn,
		writer:        &trackingWriter{w: conn},
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		deviceManager: dm,
		shutdown:      shutdown,
	}
}

// Context returns the session's cancellation context. It is cancelled when
// the connection closes or the process-wide shutdown signal fires.
func (s *Session) Context() context.Context { return s.ctx }

// Reader returns the connection's byte source.
func (s *Session) Reader() io.Reader { return s.reader }

// Writer returns the connection's byte sink. BIDIRECTIONAL handlers use this
// to write OKAY and all subsequent service-owned bytes themselves.
func (s *Session) Writer() io.Writer { return s.writer }

// Conn returns the underlying network connection, e.g. for deadlines or
// half-close.
func (s *Session) Conn() net.Conn { return s.conn }

// Logger returns the session-scoped logger.
func (s *Session) Logger() zerolog.Logger { return s.logger }

// Device lazily resolves and caches the selected device for this session.
func (s *Session) Device() (Device, error) {
	s.deviceOnce.Do(func() {
		if s.deviceManager == nil {
			s.deviceErr = fmt.Errorf("session: no device manager configured")
			return
		}
		s.device, s.deviceErr = s.deviceManager.SelectedDevice(s.ctx)
	})
	return s.device, s.deviceErr
}

// Kill requests the process-wide shutdown signal. host:kill calls this from
// its handler, before the engine has written the OKAY response; the actual
// shutdown func runs only once FireRequestedShutdown is called after that
// response reaches the wire, so the client always sees its OKAY.
func (s *Session) Kill() {
	s.killRequested = true
}

// FireRequestedShutdown invokes the shutdown signal if Kill was called
// during the just-finished handler invocation. The engine calls this after
// writing a handler's response.
func (s *Session) FireRequestedShutdown() {
	if s.killRequested && s.shutdown != nil {
		s.shutdown()
	}
}

// Current returns the Session ambiently bound to ctx by the engine before a
// handler is invoked. It panics if called outside a handler invocation,
// since that is always a programming error.
func Current(ctx context.Context) *Session {
	sess, ok := router.SessionValue(ctx).(*Session)
	if !ok {
		panic("session: Current called outside a dispatched handler")
	}
	return sess
}

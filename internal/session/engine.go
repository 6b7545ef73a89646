package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/rs/zerolog"

	"github.com/adbd-go/adbd/internal/framecodec"
	"github.com/adbd-go/adbd/internal/metricsx"
	"github.com/adbd-go/adbd/internal/router"
)

// Engine runs the per-connection state machine described in spec.md §4.3:
// read a request, dispatch it through the router, honor the resulting
// disposition, and loop or terminate.
type Engine struct {
	Router        *router.Router
	Logger        zerolog.Logger
	DeviceManager DeviceManager
	Metrics       *metricsx.Metrics

	// Shutdown raises the process-wide shutdown signal. Session.Kill (i.e.
	// host:kill) only flags the request; Session.FireRequestedShutdown calls
	// Shutdown once the handler's response has been written. It is typically
	// a context.CancelFunc belonging to the server's top-level context.
	Shutdown func()
}

// Serve runs the session loop for one accepted connection until the
// connection is closed, a handler terminates it, or ctx is cancelled.
func (e *Engine) Serve(ctx context.Context, conn net.Conn) {
	logger := e.Logger.With().Str("remote_addr", conn.RemoteAddr().String()).Logger()
	sess := newSession(ctx, conn, logger, e.DeviceManager, e.Shutdown)
	defer sess.cancel()
	defer conn.Close()

	go func() {
		<-sess.ctx.Done()
		conn.Close()
	}()

	e.Metrics.ConnectionsAccepted.Inc()
	logger.Debug().Msg("session opened")
	defer logger.Debug().Msg("session closed")

	for {
		if err := e.serveOneRequest(sess); err != nil {
			if !errors.Is(err, io.EOF) && !isClosedConnError(err) && !errors.Is(err, errBidirectionalDone) {
				logger.Debug().Err(err).Msg("session ended")
			}
			return
		}
		if sess.writer.disposition != router.KeepAlive {
			return
		}
	}
}

// serveOneRequest reads and dispatches exactly one request. A non-nil error
// means the connection must be closed; a nil error with a KeepAlive
// disposition means the engine should loop for another request.
func (e *Engine) serveOneRequest(sess *Session) error {
	req, err := framecodec.ReadRequest(sess.reader)
	if err != nil {
		if errors.Is(err, framecodec.ErrMalformedLength) {
			e.Metrics.ProtocolErrors.Inc()
			framecodec.WriteFail(sess.writer, "malformed length")
		}
		return err
	}

	handler, args, ok := e.Router.Resolve(string(req))
	if !ok {
		e.Metrics.ProtocolErrors.Inc()
		sess.logger.Warn().Str("request", string(req)).Msg("no matching route")
		return framecodec.WriteFail(sess.writer, router.ErrNoMatch)
	}

	ctx := router.WithArgs(router.WithSession(sess.ctx, sess), args)
	sess.writer.written = false
	sess.writer.disposition = router.Close

	resp, err := handler(ctx)
	if err != nil {
		if !sess.writer.written {
			return framecodec.WriteFail(sess.writer, fmt.Sprintf("command execution failed: %v", err))
		}
		sess.logger.Error().Err(err).Str("request", string(req)).Msg("handler error after writing")
		return err
	}

	sess.writer.disposition = resp.Disposition
	if resp.Disposition == router.Bidirectional {
		// The handler already wrote OKAY and every subsequent byte itself;
		// the engine must not write anything further.
		return errBidirectionalDone
	}

	if resp.Fail {
		e.Metrics.ProtocolErrors.Inc()
		err := framecodec.WriteFail(sess.writer, resp.FailMsg)
		sess.FireRequestedShutdown()
		return err
	}

	e.Metrics.RequestsDispatched.Inc()
	if err := framecodec.WriteOkay(sess.writer); err != nil {
		return err
	}
	if len(resp.Body) > 0 {
		if _, err := sess.writer.Write(resp.Body); err != nil {
			return err
		}
	}
	sess.FireRequestedShutdown()
	return nil
}

// errBidirectionalDone is a sentinel that unwinds serveOneRequest after a
// BIDIRECTIONAL handler returns; it is not logged as an error.
var errBidirectionalDone = errors.New("session: bidirectional handler finished")

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

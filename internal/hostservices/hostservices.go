// Package hostservices implements the built-in host: routes: host:version,
// host:kill, and small illustrative host-serial:/host:transport- handlers
// that exercise the router's placeholder matching beyond the two mandatory
// routes.
package hostservices

import (
	"context"
	"fmt"

	"github.com/adbd-go/adbd/internal/metricsx"
	"github.com/adbd-go/adbd/internal/router"
	"github.com/adbd-go/adbd/internal/session"
)

// Version is the 4-hex-digit ADB server protocol version reported by
// host:version.
const Version = 0x0029

// Service implements the built-in host: routes. Register it before any
// user-supplied routes so user registrations can override it.
type Service struct {
	Metrics *metricsx.Metrics
}

// Routes enrolls every built-in host: route.
func (s *Service) Routes() map[string]router.Handler {
	return map[string]router.Handler{
		"host:version":                      s.version,
		"host:kill":                         s.kill,
		"host:transport-any":                s.transportAny,
		"host:transport-usb":                s.transportAny,
		"host-serial:<serial>:get-state":    s.serialGetState,
		"host-serial:<serial>:forward:<spec>": s.serialForwardUnsupported,
	}
}

func (s *Service) version(ctx context.Context) (router.Response, error) {
	return router.OKBody([]byte(fmt.Sprintf("%04x", Version))), nil
}

// kill flags the process-wide shutdown signal and returns a plain OK. The
// engine writes that OKAY and only then fires the shutdown signal, so the
// requesting client always sees its response before the listener closes.
func (s *Service) kill(ctx context.Context) (router.Response, error) {
	sess := session.Current(ctx)
	sess.Logger().Info().Msg("host:kill received, shutting down")
	sess.Kill()
	return router.OK(), nil
}

// transportAny resolves (stubs) the "selected device" for this session and
// closes the connection, giving Session.Device a concrete caller per
// SPEC_FULL.md §5.
func (s *Service) transportAny(ctx context.Context) (router.Response, error) {
	sess := session.Current(ctx)
	if _, err := sess.Device(); err != nil {
		return router.Fail(fmt.Sprintf("no devices/emulators found: %v", err)), nil
	}
	return router.OK(), nil
}

func (s *Service) serialGetState(ctx context.Context) (router.Response, error) {
	serial := router.Arg(ctx, "serial")
	return router.OKBody([]byte("device:" + serial)), nil
}

// serialForwardUnsupported is a placeholder for host-serial:<serial>:forward:<spec>.
// Port forwarding is a transport-layer concern outside this module's scope
// (spec.md §1); this exists only so the 4-segment pattern with two
// placeholders is exercised by the router.
func (s *Service) serialForwardUnsupported(ctx context.Context) (router.Response, error) {
	return router.Fail("unsupported operation"), nil
}

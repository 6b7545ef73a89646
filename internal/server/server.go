// Package server wires the router, session engine, and built-in services
// together behind a TCP listener, following the teacher's pattern of a
// config-driven Server with a blocking Run(ctx).
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/rs/zerolog"

	"github.com/adbd-go/adbd/internal/config"
	"github.com/adbd-go/adbd/internal/fs"
	"github.com/adbd-go/adbd/internal/hostservices"
	"github.com/adbd-go/adbd/internal/metricsx"
	"github.com/adbd-go/adbd/internal/router"
	"github.com/adbd-go/adbd/internal/session"
	"github.com/adbd-go/adbd/internal/shell"
	syncsvc "github.com/adbd-go/adbd/internal/sync"
)

// Server owns the smart-socket listener and the router/engine it dispatches
// accepted connections through.
type Server struct {
	Logger  zerolog.Logger
	Addr    string
	Router  *router.Router
	Metrics *metricsx.Metrics

	DeviceManager session.DeviceManager
}

// New builds a Server from c. Built-in host: routes are registered first so
// that a caller wishing to override them (e.g. with a real device manager's
// host-serial handlers) can do so via Router.Register after New returns.
func New(c *config.Config) (*Server, error) {
	logger := configureLogging(c)
	m := metricsx.New()

	rt := router.New()
	rt.RegisterObject(&hostservices.Service{Metrics: m})
	rt.RegisterObject(&shell.Service{Metrics: m})
	rt.RegisterObject(&syncsvc.Service{FS: fs.NewLocal(c.SyncRoot), Metrics: m})

	return &Server{
		Logger:        logger,
		Addr:          c.Addr.String(),
		Router:        rt,
		Metrics:       m,
		DeviceManager: NewStubDeviceManager(),
	}, nil
}

// Run listens on s.Addr and serves connections until ctx is cancelled or a
// host:kill request raises the shutdown signal internally.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.Addr, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	engine := &session.Engine{
		Router:        s.Router,
		Logger:        s.Logger,
		DeviceManager: s.DeviceManager,
		Metrics:       s.Metrics,
		Shutdown:      cancel,
	}

	s.Logger.Info().Str("addr", s.Addr).Msg("listening for smart-socket connections")
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		go engine.Serve(ctx, conn)
	}
}

// configureLogging builds a zerolog.Logger from c, mirroring the teacher's
// stdout/pretty-output switches.
func configureLogging(c *config.Config) zerolog.Logger {
	if !c.LogStdout {
		return zerolog.New(io.Discard).Level(zerolog.Disabled)
	}

	var w io.Writer = os.Stdout
	if c.LogStdoutPretty {
		w = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return zerolog.New(w).
		Level(c.LogLevel).
		With().
		Str("component", "adbd").
		Timestamp().
		Logger()
}

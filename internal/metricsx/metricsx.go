// Package metricsx wires the session engine, shell service, and sync
// service into a set of VictoriaMetrics counters exposed for scraping.
package metricsx

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Metrics holds the counters shared across a running server.
type Metrics struct {
	set *metrics.Set

	ConnectionsAccepted *metrics.Counter
	RequestsDispatched  *metrics.Counter
	ProtocolErrors      *metrics.Counter
}

// New creates a Metrics bound to a fresh metrics.Set, so a server can run
// multiple independent instances (e.g. in tests) without colliding in the
// global registry.
func New() *Metrics {
	s := metrics.NewSet()
	return &Metrics{
		set:                 s,
		ConnectionsAccepted: s.NewCounter(`adbd_connections_accepted_total`),
		RequestsDispatched:  s.NewCounter(`adbd_requests_dispatched_total`),
		ProtocolErrors:      s.NewCounter(`adbd_protocol_errors_total`),
	}
}

// ShellSessionStarted increments the counter for the given shell mode
// (shell, shell-interactive, shell-v2, shell-v2-interactive; exec: requests
// count under the shell and shell-interactive labels), creating it on first
// use.
func (m *Metrics) ShellSessionStarted(mode string) {
	m.set.GetOrCreateCounter(`adbd_shell_sessions_started_total{mode="` + mode + `"}`).Inc()
}

// SyncOperation increments the counter for the given sync frame ID (LIST,
// STAT, RECV, SEND, QUIT), creating it on first use.
func (m *Metrics) SyncOperation(id string) {
	m.set.GetOrCreateCounter(`adbd_sync_operations_total{id="` + id + `"}`).Inc()
}

// WritePrometheus writes all registered metrics in Prometheus exposition
// format, for wiring into a debug HTTP handler.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}

// Package metrics exposes knockd's Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"grimm.is/knockd/internal/logging"
)

var (
	once     sync.Once
	registry *Registry
)

// Reset reasons reported on knockd_sequence_resets_total.
const (
	ResetMismatch = "mismatch"
	ResetExpired  = "expired"
)

// Registry holds all knockd metrics.
type Registry struct {
	KnocksTotal    *prometheus.CounterVec
	SequenceResets *prometheus.CounterVec
	GrantsTotal    prometheus.Counter
	RevokesTotal   *prometheus.CounterVec
	BackendErrors  *prometheus.CounterVec
	BackendLatency *prometheus.HistogramVec

	ActiveGrants   prometheus.Gauge
	TrackedSources prometheus.Gauge
	ListenersUp    prometheus.Gauge
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry(prometheus.DefaultRegisterer)
	})
	return registry
}

// NewUnregistered builds a registry attached to reg instead of the global
// default. Tests use it with a fresh prometheus.NewRegistry().
func NewUnregistered(reg prometheus.Registerer) *Registry {
	return newRegistry(reg)
}

func newRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	r := &Registry{}

	r.KnocksTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "knockd_knocks_total",
		Help: "Connection attempts observed on sentinel ports",
	}, []string{"port"})

	r.SequenceResets = f.NewCounterVec(prometheus.CounterOpts{
		Name: "knockd_sequence_resets_total",
		Help: "Knock progress discarded, by reason",
	}, []string{"reason"})

	r.GrantsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "knockd_grants_total",
		Help: "Completed knock sequences that produced a grant",
	})

	r.RevokesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "knockd_revokes_total",
		Help: "Grant revocations, by result (revoked, stale, failed, shutdown)",
	}, []string{"result"})

	r.BackendErrors = f.NewCounterVec(prometheus.CounterOpts{
		Name: "knockd_backend_errors_total",
		Help: "Failed packet-filter operations",
	}, []string{"op"})

	r.BackendLatency = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "knockd_backend_duration_seconds",
		Help:    "Packet-filter operation latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	r.ActiveGrants = f.NewGauge(prometheus.GaugeOpts{
		Name: "knockd_active_grants",
		Help: "Grants whose revocation timer has not fired",
	})

	r.TrackedSources = f.NewGauge(prometheus.GaugeOpts{
		Name: "knockd_tracked_sources",
		Help: "Source addresses with knock progress in memory",
	})

	r.ListenersUp = f.NewGauge(prometheus.GaugeOpts{
		Name: "knockd_sentinel_listeners",
		Help: "Sentinel ports currently accepting",
	})

	return r
}

// RecordKnock counts an observed knock on port.
func (r *Registry) RecordKnock(port int) {
	r.KnocksTotal.WithLabelValues(strconv.Itoa(port)).Inc()
}

// RecordBackendOp records the outcome of a Grant/Revoke/Setup call.
func (r *Registry) RecordBackendOp(op string, d time.Duration, err error) {
	r.BackendLatency.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		r.BackendErrors.WithLabelValues(op).Inc()
	}
}

// maxScrapeConns caps concurrent connections to the metrics endpoint.
const maxScrapeConns = 16

// Route is an extra handler mounted next to /metrics.
type Route struct {
	Pattern string
	Handler http.Handler
}

// Serve runs the /metrics endpoint, plus any extra routes, on addr until
// ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *logging.Logger, routes ...Route) error {
	log := logging.OrDefault(logger).WithComponent("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	for _, r := range routes {
		mux.Handle(r.Pattern, r.Handler)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen: %w", err)
	}
	ln = netutil.LimitListener(ln, maxScrapeConns)

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics endpoint listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

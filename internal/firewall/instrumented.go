package firewall

import (
	"context"
	"time"

	"grimm.is/knockd/internal/metrics"
)

// Backend operation labels for knockd_backend_* metrics.
const (
	OpSetup  = "setup"
	OpGrant  = "grant"
	OpRevoke = "revoke"
)

// Instrumented records latency and failures of every backend call.
type Instrumented struct {
	Backend
	metrics *metrics.Registry
}

// NewInstrumented wraps b.
func NewInstrumented(b Backend, m *metrics.Registry) *Instrumented {
	return &Instrumented{Backend: b, metrics: m}
}

func (i *Instrumented) Setup(ctx context.Context) error {
	start := time.Now()
	err := i.Backend.Setup(ctx)
	i.metrics.RecordBackendOp(OpSetup, time.Since(start), err)
	return err
}

func (i *Instrumented) Grant(ctx context.Context, addr string, port int) error {
	start := time.Now()
	err := i.Backend.Grant(ctx, addr, port)
	i.metrics.RecordBackendOp(OpGrant, time.Since(start), err)
	return err
}

func (i *Instrumented) Revoke(ctx context.Context, addr string, port int) error {
	start := time.Now()
	err := i.Backend.Revoke(ctx, addr, port)
	i.metrics.RecordBackendOp(OpRevoke, time.Since(start), err)
	return err
}

// Unwrap returns the wrapped backend.
func (i *Instrumented) Unwrap() Backend { return i.Backend }

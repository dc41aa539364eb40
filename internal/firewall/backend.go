package firewall

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"grimm.is/knockd/internal/config"
	"grimm.is/knockd/internal/logging"
	"grimm.is/knockd/internal/metrics"
)

var (
	// ErrUnsupported is returned when a backend cannot run on this platform.
	ErrUnsupported = errors.New("firewall backend not supported on this platform")
	// ErrInvalidAddress is returned for addresses that are not IPv4 or IPv6 literals.
	ErrInvalidAddress = errors.New("invalid source address")
	// ErrNotReady is returned by Grant and Revoke before Setup succeeded.
	ErrNotReady = errors.New("firewall backend not set up")
)

// Backend mutates the host packet filter.
type Backend interface {
	// Setup installs the default-drop rule for the protected port.
	Setup(ctx context.Context) error
	// Grant allows addr to reach port. Granting an existing rule is a no-op.
	Grant(ctx context.Context, addr string, port int) error
	// Revoke removes the rule for addr and port. A missing rule is not an error.
	Revoke(ctx context.Context, addr string, port int) error
	// Close releases backend resources. Installed rules are left in place.
	Close() error
}

// Options configures New.
type Options struct {
	Backend       string // nftables | iptables | memory
	Table         string // nftables table name
	Chain         string // iptables chain
	ProtectedPort int
	Retry         *RetryConfig // nil uses DefaultRetryConfig
	Metrics       *metrics.Registry
	Logger        *logging.Logger
}

// New builds the backend named in opts, wrapped with retries and metrics.
func New(opts Options) (Backend, error) {
	if opts.ProtectedPort < 1 || opts.ProtectedPort > 65535 {
		return nil, fmt.Errorf("protected port %d out of range", opts.ProtectedPort)
	}

	var (
		b   Backend
		err error
	)
	switch opts.Backend {
	case config.BackendMemory:
		b = NewMemory(opts.ProtectedPort)
	case config.BackendNFTables, "":
		b, err = NewNFTables(nil, opts.Table, opts.ProtectedPort)
	case config.BackendIPTables:
		b, err = NewIPTables(opts.Chain, opts.ProtectedPort, opts.Logger)
	default:
		return nil, fmt.Errorf("unknown firewall backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", opts.Backend, err)
	}

	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	b = NewRetrying(b, retry)

	if opts.Metrics != nil {
		b = NewInstrumented(b, opts.Metrics)
	}
	return b, nil
}

// parseAddr validates addr and normalises IPv4-mapped IPv6 to IPv4.
func parseAddr(addr string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if ip.Zone() != "" {
		ip = ip.WithZone("")
	}
	return ip.Unmap(), nil
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}

package testutil

import (
	"net"
	"os"
	"testing"

	"grimm.is/knockd/internal/brand"
)

// NetTestEnv enables tests that modify the host packet filter.
var NetTestEnv = brand.ConfigEnvPrefix + "_NET_TEST"

// RequireNetAdmin skips the test unless KNOCKD_NET_TEST is set.
// Tests guarded by it need CAP_NET_ADMIN and should run in a throwaway VM or
// network namespace.
func RequireNetAdmin(t *testing.T) {
	t.Helper()
	if os.Getenv(NetTestEnv) == "" {
		t.Skipf("Skipping test: requires %s environment", NetTestEnv)
	}
}

// Listen binds a TCP listener on an ephemeral loopback port and closes it
// when the test ends.
func Listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return ln
}

// Port returns the TCP port ln is bound to.
func Port(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}

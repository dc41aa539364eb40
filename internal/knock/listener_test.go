package knock

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/knockd/internal/logging"
	"grimm.is/knockd/internal/testutil"
)

func TestListener_EmitsEventPerConnection(t *testing.T) {
	ln := testutil.Listen(t)
	l := NewListener(ln, 1234, nil, logging.Discard())

	out := make(chan Event, 4)
	done := make(chan error, 1)
	go func() { done <- l.Serve(context.Background(), out) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case evt := <-out:
		assert.Equal(t, "127.0.0.1", evt.Source)
		assert.Equal(t, 1234, evt.Port)
		assert.False(t, evt.ObservedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no knock event")
	}

	// The server closes without writing anything.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ := conn.Read(make([]byte, 1))
	assert.Equal(t, 0, n)

	require.NoError(t, l.Close())
	assert.NoError(t, <-done)
	assert.NoError(t, l.Close(), "second close is a no-op")
}

func TestListener_StopsOnContextCancel(t *testing.T) {
	ln := testutil.Listen(t)
	l := NewListener(ln, 5678, nil, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Serve(ctx, make(chan Event)) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

// failOnceListener returns an error from its first Accept, then delegates.
type failOnceListener struct {
	net.Listener
	failed atomic.Bool
}

func (f *failOnceListener) Accept() (net.Conn, error) {
	if f.failed.CompareAndSwap(false, true) {
		return nil, errors.New("accept: protocol error")
	}
	return f.Listener.Accept()
}

func TestListener_AcceptErrorDoesNotStopLoop(t *testing.T) {
	ln := testutil.Listen(t)
	flaky := &failOnceListener{Listener: ln}
	l := NewListener(flaky, 1234, nil, logging.Discard())

	out := make(chan Event, 1)
	done := make(chan error, 1)
	go func() { done <- l.Serve(context.Background(), out) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case evt := <-out:
		assert.True(t, flaky.failed.Load())
		assert.Equal(t, 1234, evt.Port)
	case err := <-done:
		t.Fatalf("Serve returned after an accept error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no knock event after accept error")
	}

	require.NoError(t, l.Close())
	assert.NoError(t, <-done)
}

func TestBind_AllOrNothing(t *testing.T) {
	busy := testutil.Listen(t)
	busyPort := testutil.Port(busy)

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	freePort := testutil.Port(probe)
	probe.Close()

	_, err = Bind(context.Background(), "127.0.0.1", []int{freePort, busyPort})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bind port")

	// The port that did bind was released again.
	again, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", itoa(freePort)))
	require.NoError(t, err)
	again.Close()
}

func TestBind_Success(t *testing.T) {
	lns, err := Bind(context.Background(), "127.0.0.1", []int{0})
	require.NoError(t, err)
	require.Len(t, lns, 1)
	for _, ln := range lns {
		ln.Close()
	}
}

func TestPeerAddress(t *testing.T) {
	mapped := &net.TCPAddr{IP: net.ParseIP("::ffff:192.0.2.1"), Port: 5555}
	assert.Equal(t, "192.0.2.1", peerAddress(mapped))

	v6 := &net.TCPAddr{IP: net.ParseIP("2001:db8::7"), Port: 5555}
	assert.Equal(t, "2001:db8::7", peerAddress(v6))

	assert.Equal(t, "", peerAddress(nil))
	assert.Equal(t, "198.51.100.3", peerAddress(&net.UDPAddr{IP: net.ParseIP("198.51.100.3"), Port: 1}))
}

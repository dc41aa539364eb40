package knock

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"grimm.is/knockd/internal/clock"
	"grimm.is/knockd/internal/logging"
)

// Accept error backoff, as in net/http.Server.
const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Listener watches one sentinel port. Every accepted connection is closed
// without reading and reported as an Event.
type Listener struct {
	port   int
	ln     net.Listener
	clock  clock.Clock
	logger *logging.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewListener wraps an already bound listener for port.
func NewListener(ln net.Listener, port int, clk clock.Clock, logger *logging.Logger) *Listener {
	return &Listener{
		port:   port,
		ln:     ln,
		clock:  clock.OrDefault(clk),
		logger: logging.OrDefault(logger).WithComponent("listener"),
		closed: make(chan struct{}),
	}
}

// Port returns the sentinel port.
func (l *Listener) Port() int { return l.port }

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Serve accepts until ctx is cancelled or Close is called, sending one Event
// per connection attempt to out. Accept errors are logged and retried with
// backoff; only closing the listener ends the loop.
func (l *Listener) Serve(ctx context.Context, out chan<- Event) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else {
				backoff *= 2
			}
			if backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			var ne net.Error
			if (errors.As(err, &ne) && ne.Timeout()) || isTemporary(err) {
				l.logger.Warn("accept error, retrying", "port", l.port, "error", err, "backoff", backoff)
			} else {
				l.logger.Error("accept failed, retrying", "port", l.port, "error", err, "backoff", backoff)
			}
			select {
			case <-time.After(backoff):
			case <-l.closed:
				return nil
			}
			continue
		}
		backoff = 0

		evt := Event{Port: l.port, ObservedAt: l.clock.Now()}
		evt.Source = peerAddress(conn.RemoteAddr())
		conn.Close()

		if evt.Source == "" {
			l.logger.Warn("could not determine peer address", "port", l.port, "remote", conn.RemoteAddr())
			continue
		}

		select {
		case out <- evt:
		case <-l.closed:
			return nil
		}
	}
}

// Close stops accepting. It is safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.ln.Close()
	})
	return err
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// isTemporary matches errors that go away on their own, such as EMFILE.
func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// peerAddress returns the bare IP of addr with IPv4-mapped addresses unmapped.
func peerAddress(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		if ip, ok := netip.AddrFromSlice(tcp.IP); ok {
			return ip.Unmap().String()
		}
		return ""
	}
	if addr == nil {
		return ""
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		return ""
	}
	return ap.Addr().Unmap().String()
}

// Bind listens on every port in ports at host. Binding is all-or-nothing:
// if any port fails, the ones already bound are closed and the error for
// each failed port is returned.
func Bind(ctx context.Context, host string, ports []int) (map[int]net.Listener, error) {
	var lc net.ListenConfig
	bound := make(map[int]net.Listener, len(ports))
	var result *multierror.Error

	for _, port := range ports {
		ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("bind port %d: %w", port, err))
			continue
		}
		bound[port] = ln
	}

	if err := result.ErrorOrNil(); err != nil {
		for _, ln := range bound {
			ln.Close()
		}
		return nil, err
	}
	return bound, nil
}

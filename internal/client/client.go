// Package client sends knock sequences to a knockd server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Defaults mirror the server defaults.
const (
	DefaultDelay   = 300 * time.Millisecond
	DefaultTimeout = time.Second
	DefaultSettle  = time.Second
)

// Dialer opens connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Attempt is the outcome of one knock. A refused or timed-out connection
// still counts as a knock; Err is informational.
type Attempt struct {
	Port int
	Err  error
}

// Knocker sends knock sequences.
type Knocker struct {
	Dialer  Dialer
	Delay   time.Duration // pause after each knock
	Timeout time.Duration // per-knock connect timeout
	Settle  time.Duration // pause after the sequence so the server can apply the grant

	// OnAttempt, if set, is called after every knock.
	OnAttempt func(i int, a Attempt)
}

// New returns a Knocker with default timings.
func New() *Knocker {
	return &Knocker{
		Dialer:  &net.Dialer{},
		Delay:   DefaultDelay,
		Timeout: DefaultTimeout,
		Settle:  DefaultSettle,
	}
}

// Knock attempts a TCP connection to each port of sequence on host, in order.
// It only fails if ctx ends before the sequence is complete.
func (k *Knocker) Knock(ctx context.Context, host string, sequence []int) ([]Attempt, error) {
	attempts := make([]Attempt, 0, len(sequence))
	for i, port := range sequence {
		a := Attempt{Port: port, Err: k.dial(ctx, host, port)}
		attempts = append(attempts, a)
		if k.OnAttempt != nil {
			k.OnAttempt(i, a)
		}
		if err := sleep(ctx, k.Delay); err != nil {
			return attempts, err
		}
	}
	if err := sleep(ctx, k.Settle); err != nil {
		return attempts, err
	}
	return attempts, nil
}

// Probe reports whether port on host accepts a TCP connection.
func (k *Knocker) Probe(ctx context.Context, host string, port int) (bool, error) {
	err := k.dial(ctx, host, port)
	if err == nil {
		return true, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, nil
}

func (k *Knocker) dial(ctx context.Context, host string, port int) error {
	timeout := k.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := k.Dialer
	if d == nil {
		d = &net.Dialer{}
	}
	conn, err := d.DialContext(dctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	return conn.Close()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrSequenceTooShort is returned by ParseSequence for fewer than two ports.
var ErrSequenceTooShort = errors.New("sequence must have at least 2 ports")

// ParseSequence parses a comma-separated port list such as "1234,5678,9012".
func ParseSequence(s string) ([]int, error) {
	var seq []int
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		port, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("invalid sequence %q: use comma-separated integers", s)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid port %d in sequence", port)
		}
		seq = append(seq, port)
	}
	if len(seq) < 2 {
		return nil, ErrSequenceTooShort
	}
	return seq, nil
}

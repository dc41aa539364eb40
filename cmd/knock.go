package cmd

import (
	"context"
	"errors"
	"strings"
	"time"

	"grimm.is/knockd/internal/client"
)

// KnockOptions are the inputs of `knockd knock`.
type KnockOptions struct {
	Target        string
	Sequence      string // comma-separated ports
	ProtectedPort int
	Delay         time.Duration
	Check         bool
	CheckTimeout  time.Duration
}

// ErrStillClosed is returned by RunKnock when --check finds the protected
// port closed after knocking.
var ErrStillClosed = errors.New("protected port is still closed")

// RunKnock sends the knock sequence to a server and optionally probes the
// protected port afterwards.
func RunKnock(ctx context.Context, opts KnockOptions, k *client.Knocker) error {
	if opts.Target == "" {
		return errors.New("--target is required")
	}
	seq, err := client.ParseSequence(opts.Sequence)
	if err != nil {
		return err
	}
	if k == nil {
		k = client.New()
	}
	if opts.Delay > 0 {
		k.Delay = opts.Delay
	}

	rule := strings.Repeat("=", 60)
	Printer.Fprintln(stdout, rule)
	Printer.Fprintln(stdout, "Port Knocking Client")
	Printer.Fprintln(stdout, rule)
	Printer.Fprintf(stdout, "Target: %s\n", opts.Target)
	Printer.Fprintf(stdout, "Sequence: %s\n", ports(seq))
	Printer.Fprintf(stdout, "Protected Port: %s\n", port(opts.ProtectedPort))
	Printer.Fprintln(stdout, rule)
	Printer.Fprintln(stdout)

	Printer.Fprintf(stdout, "Sending knock sequence to %s: %s\n\n", opts.Target, ports(seq))
	k.OnAttempt = func(i int, a client.Attempt) {
		Printer.Fprintf(stdout, "[%d/%d] Knocking port %s...\n", i+1, len(seq), port(a.Port))
		if a.Err != nil {
			Printer.Fprintf(stdout, "  Knocked port %s (connection attempt made)\n", port(a.Port))
		} else {
			Printer.Fprintf(stdout, "  Knocked port %s\n", port(a.Port))
		}
	}

	if _, err := k.Knock(ctx, opts.Target, seq); err != nil {
		Printer.Fprintln(stdout, "Knock sequence failed")
		return err
	}
	Printer.Fprintln(stdout)
	Printer.Fprintln(stdout, "Knock sequence completed!")

	if !opts.Check {
		return nil
	}

	Printer.Fprintln(stdout)
	Printer.Fprintf(stdout, "Checking if protected port %s is now open...\n", port(opts.ProtectedPort))

	probe := *k
	if opts.CheckTimeout > 0 {
		probe.Timeout = opts.CheckTimeout
	}
	open, err := probe.Probe(ctx, opts.Target, opts.ProtectedPort)
	if err != nil {
		return err
	}
	if !open {
		Printer.Fprintf(stdout, "Port %s is still CLOSED\n", port(opts.ProtectedPort))
		return ErrStillClosed
	}
	Printer.Fprintf(stdout, "Port %s is OPEN! You can now connect.\n", port(opts.ProtectedPort))
	Printer.Fprintf(stdout, "   Example: ssh user@%s -p %s\n", opts.Target, port(opts.ProtectedPort))
	return nil
}

//go:build linux

package firewall

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/coreos/go-iptables/iptables"

	"grimm.is/knockd/internal/logging"
)

const (
	filterTable = "filter"

	// grantComment tags ACCEPT rules so Setup can find grants left behind by
	// a previous run without touching rules it did not create.
	grantComment = "knockd-grant"
)

// IPTablesBackend manages one ACCEPT rule per grant above a DROP rule for
// the protected port, in both iptables and ip6tables when available.
type IPTablesBackend struct {
	mu            sync.Mutex
	v4            IPTables
	v6            IPTables // nil when ip6tables is unavailable
	chain         string
	protectedPort int
	ready         bool
}

// NewIPTables locates iptables and, if present, ip6tables.
func NewIPTables(chain string, protectedPort int, logger *logging.Logger) (*IPTablesBackend, error) {
	v4, err := iptables.NewWithProtocol(iptables.ProtocolIPv4)
	if err != nil {
		return nil, fmt.Errorf("iptables: %w", err)
	}

	var v6 IPTables
	ipt6, err := iptables.NewWithProtocol(iptables.ProtocolIPv6)
	if err != nil {
		logging.OrDefault(logger).WithComponent("firewall").Warn("ip6tables unavailable, IPv6 knocks cannot be granted", "error", err)
	} else {
		v6 = ipt6
	}

	return NewIPTablesWith(v4, v6, chain, protectedPort), nil
}

// NewIPTablesWith builds the backend around existing handles.
func NewIPTablesWith(v4, v6 IPTables, chain string, protectedPort int) *IPTablesBackend {
	if chain == "" {
		chain = "INPUT"
	}
	return &IPTablesBackend{
		v4:            v4,
		v6:            v6,
		chain:         chain,
		protectedPort: protectedPort,
	}
}

// Setup removes grants left over from a previous run and inserts the DROP
// rule for the protected port at the top of the chain unless it exists.
// Grants are inserted above it later.
func (b *IPTablesBackend) Setup(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	spec := b.dropSpec()
	for _, ipt := range []IPTables{b.v4, b.v6} {
		if ipt == nil {
			continue
		}
		if err := b.removeStaleGrants(ipt); err != nil {
			return err
		}
		exists, err := ipt.Exists(filterTable, b.chain, spec...)
		if err != nil {
			return fmt.Errorf("check drop rule: %w", err)
		}
		if exists {
			continue
		}
		if err := ipt.Insert(filterTable, b.chain, 1, spec...); err != nil {
			return fmt.Errorf("insert drop rule: %w", err)
		}
	}
	b.ready = true
	return nil
}

// removeStaleGrants deletes tagged ACCEPT rules for the protected port.
func (b *IPTablesBackend) removeStaleGrants(ipt IPTables) error {
	rules, err := ipt.List(filterTable, b.chain)
	if err != nil {
		return fmt.Errorf("list %s: %w", b.chain, err)
	}
	for _, rule := range rules {
		spec, ok := b.staleGrant(rule)
		if !ok {
			continue
		}
		if err := ipt.Delete(filterTable, b.chain, spec...); err != nil {
			return fmt.Errorf("remove stale grant: %w", err)
		}
	}
	return nil
}

// staleGrant parses one rule as printed by iptables -S, such as
// "-A INPUT -s 192.0.2.7/32 -p tcp -m tcp --dport 22 -m comment --comment knockd-grant -j ACCEPT",
// and returns its rulespec if it is a grant this backend created.
func (b *IPTablesBackend) staleGrant(rule string) ([]string, bool) {
	fields := strings.Fields(rule)
	if len(fields) < 3 || fields[0] != "-A" || fields[1] != b.chain {
		return nil, false
	}
	spec := fields[2:]
	var comment, dport, target string
	for i := 0; i+1 < len(spec); i++ {
		spec[i+1] = strings.Trim(spec[i+1], `"`)
		switch spec[i] {
		case "--comment":
			comment = spec[i+1]
		case "--dport":
			dport = spec[i+1]
		case "-j":
			target = spec[i+1]
		}
	}
	if comment != grantComment || target != "ACCEPT" || dport != strconv.Itoa(b.protectedPort) {
		return nil, false
	}
	return spec, true
}

// Grant inserts the ACCEPT rule at the top of the chain if it is missing.
func (b *IPTablesBackend) Grant(ctx context.Context, addr string, port int) error {
	ipt, spec, err := b.acceptRule(addr, port)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return ErrNotReady
	}

	exists, err := ipt.Exists(filterTable, b.chain, spec...)
	if err != nil {
		return fmt.Errorf("check accept rule: %w", err)
	}
	if exists {
		return nil
	}
	if err := ipt.Insert(filterTable, b.chain, 1, spec...); err != nil {
		return fmt.Errorf("grant %s port %d: %w", addr, port, err)
	}
	return nil
}

// Revoke deletes the ACCEPT rule if it exists.
func (b *IPTablesBackend) Revoke(ctx context.Context, addr string, port int) error {
	ipt, spec, err := b.acceptRule(addr, port)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return ErrNotReady
	}

	exists, err := ipt.Exists(filterTable, b.chain, spec...)
	if err != nil {
		return fmt.Errorf("check accept rule: %w", err)
	}
	if !exists {
		return nil
	}
	if err := ipt.Delete(filterTable, b.chain, spec...); err != nil {
		return fmt.Errorf("revoke %s port %d: %w", addr, port, err)
	}
	return nil
}

// Close leaves the DROP rule installed.
func (b *IPTablesBackend) Close() error { return nil }

func (b *IPTablesBackend) dropSpec() []string {
	return []string{"-p", "tcp", "--dport", strconv.Itoa(b.protectedPort), "-j", "DROP"}
}

func (b *IPTablesBackend) acceptRule(addr string, port int) (IPTables, []string, error) {
	ip, err := parseAddr(addr)
	if err != nil {
		return nil, nil, err
	}
	if err := validPort(port); err != nil {
		return nil, nil, err
	}

	ipt := b.v4
	if !ip.Is4() {
		if b.v6 == nil {
			return nil, nil, fmt.Errorf("%w: ip6tables not available for %s", ErrUnsupported, addr)
		}
		ipt = b.v6
	}
	return ipt, []string{
		"-s", ip.String(), "-p", "tcp", "--dport", strconv.Itoa(port),
		"-m", "comment", "--comment", grantComment,
		"-j", "ACCEPT",
	}, nil
}

package firewall

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Rule is one granted (address, port) pair.
type Rule struct {
	Addr string
	Port int
}

func (r Rule) String() string {
	return fmt.Sprintf("%s -> tcp/%d", r.Addr, r.Port)
}

// Memory is an in-process Backend. It honours the same idempotency contract
// as the kernel backends and lets tests inject failures.
type Memory struct {
	mu            sync.Mutex
	protectedPort int
	ready         bool
	rules         map[Rule]struct{}
	failures      map[string]error

	grants  int
	revokes int
}

// NewMemory creates an in-memory backend.
func NewMemory(protectedPort int) *Memory {
	return &Memory{
		protectedPort: protectedPort,
		rules:         make(map[Rule]struct{}),
		failures:      make(map[string]error),
	}
}

// Setup marks the backend ready.
func (m *Memory) Setup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures["setup"]; err != nil {
		return err
	}
	m.ready = true
	return nil
}

// Grant records a rule for addr and port.
func (m *Memory) Grant(ctx context.Context, addr string, port int) error {
	ip, err := parseAddr(addr)
	if err != nil {
		return err
	}
	if err := validPort(port); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return ErrNotReady
	}
	if err := m.failures["grant"]; err != nil {
		return err
	}
	m.rules[Rule{Addr: ip.String(), Port: port}] = struct{}{}
	m.grants++
	return nil
}

// Revoke drops the rule for addr and port if present.
func (m *Memory) Revoke(ctx context.Context, addr string, port int) error {
	ip, err := parseAddr(addr)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		return ErrNotReady
	}
	if err := m.failures["revoke"]; err != nil {
		return err
	}
	delete(m.rules, Rule{Addr: ip.String(), Port: port})
	m.revokes++
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Allowed reports whether addr currently has a rule for port.
func (m *Memory) Allowed(addr string, port int) bool {
	ip, err := parseAddr(addr)
	if err != nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rules[Rule{Addr: ip.String(), Port: port}]
	return ok
}

// Rules returns the current rule set, sorted.
func (m *Memory) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.rules))
	for r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Addr == out[j].Addr {
			return out[i].Port < out[j].Port
		}
		return out[i].Addr < out[j].Addr
	})
	return out
}

// Calls returns how many Grant and Revoke calls succeeded.
func (m *Memory) Calls() (grants, revokes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants, m.revokes
}

// FailWith makes op ("setup", "grant" or "revoke") return err until cleared
// with a nil err.
func (m *Memory) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

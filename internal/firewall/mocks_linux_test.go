//go:build linux

package firewall

import (
	"sync"

	"github.com/google/nftables"
	"github.com/stretchr/testify/mock"
)

// MockNFTablesConn is a mock implementation of NFTablesConn for testing.
type MockNFTablesConn struct {
	mock.Mock
	mu sync.Mutex

	rules []*nftables.Rule
	sets  map[string]*nftables.Set
}

func NewMockNFTablesConn() *MockNFTablesConn {
	return &MockNFTablesConn{sets: make(map[string]*nftables.Set)}
}

func (m *MockNFTablesConn) AddTable(t *nftables.Table) *nftables.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
	return t
}

func (m *MockNFTablesConn) DelTable(t *nftables.Table) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(t)
}

func (m *MockNFTablesConn) AddChain(c *nftables.Chain) *nftables.Chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(c)
	return c
}

func (m *MockNFTablesConn) AddRule(r *nftables.Rule) *nftables.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Called(r)
	m.rules = append(m.rules, r)
	return r
}

func (m *MockNFTablesConn) AddSet(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	m.sets[s.Name] = s
	return args.Error(0)
}

func (m *MockNFTablesConn) SetAddElements(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	return args.Error(0)
}

func (m *MockNFTablesConn) SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(s, vals)
	return args.Error(0)
}

func (m *MockNFTablesConn) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called()
	return args.Error(0)
}

// MockIPTables is a mock implementation of IPTables that also keeps the
// rules it was asked to create so idempotency can be asserted. listed is
// what List reports, in iptables -S form.
type MockIPTables struct {
	mock.Mock
	mu     sync.Mutex
	rules  map[string]bool
	listed []string
}

func NewMockIPTables() *MockIPTables {
	return &MockIPTables{rules: make(map[string]bool)}
}

func ruleKey(table, chain string, spec []string) string {
	key := table + "/" + chain
	for _, s := range spec {
		key += " " + s
	}
	return key
}

func (m *MockIPTables) Exists(table, chain string, rulespec ...string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(table, chain, rulespec)
	if err := args.Error(0); err != nil {
		return false, err
	}
	return m.rules[ruleKey(table, chain, rulespec)], nil
}

func (m *MockIPTables) Insert(table, chain string, pos int, rulespec ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(table, chain, pos, rulespec)
	if err := args.Error(0); err != nil {
		return err
	}
	m.rules[ruleKey(table, chain, rulespec)] = true
	return nil
}

func (m *MockIPTables) Delete(table, chain string, rulespec ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(table, chain, rulespec)
	if err := args.Error(0); err != nil {
		return err
	}
	delete(m.rules, ruleKey(table, chain, rulespec))
	return nil
}

func (m *MockIPTables) List(table, chain string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(table, chain)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return append([]string(nil), m.listed...), nil
}

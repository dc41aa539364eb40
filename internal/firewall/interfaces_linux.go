//go:build linux

package firewall

import "github.com/google/nftables"

// NFTablesConn abstracts the nftables.Conn operations the backend uses so
// tests can run without CAP_NET_ADMIN. *nftables.Conn satisfies it.
type NFTablesConn interface {
	AddTable(t *nftables.Table) *nftables.Table
	DelTable(t *nftables.Table)
	AddChain(c *nftables.Chain) *nftables.Chain
	AddRule(r *nftables.Rule) *nftables.Rule
	AddSet(s *nftables.Set, vals []nftables.SetElement) error
	SetAddElements(s *nftables.Set, vals []nftables.SetElement) error
	SetDeleteElements(s *nftables.Set, vals []nftables.SetElement) error
	Flush() error
}

// IPTables abstracts the go-iptables calls the backend uses.
// *iptables.IPTables satisfies it.
type IPTables interface {
	Exists(table, chain string, rulespec ...string) (bool, error)
	Insert(table, chain string, pos int, rulespec ...string) error
	Delete(table, chain string, rulespec ...string) error
	List(table, chain string) ([]string, error)
}

var _ NFTablesConn = (*nftables.Conn)(nil)

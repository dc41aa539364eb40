//go:build linux

package firewall

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"github.com/google/nftables"
	"github.com/google/nftables/binaryutil"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"
)

// Set names inside the knockd table.
const (
	SetAllowed4 = "knockd_allowed"
	SetAllowed6 = "knockd_allowed6"
	inputChain  = "input"
)

// NFTables is the native nftables backend.
type NFTables struct {
	mu            sync.Mutex
	conn          NFTablesConn
	table         *nftables.Table
	set4          *nftables.Set
	set6          *nftables.Set
	protectedPort int
	ready         bool
}

// NewNFTables creates the backend. A nil conn opens a netlink connection.
func NewNFTables(conn NFTablesConn, tableName string, protectedPort int) (*NFTables, error) {
	if conn == nil {
		c, err := nftables.New()
		if err != nil {
			return nil, fmt.Errorf("open netlink: %w", err)
		}
		conn = c
	}
	if tableName == "" {
		tableName = "knockd"
	}
	if !isValidName(tableName) {
		return nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	table := &nftables.Table{Name: tableName, Family: nftables.TableFamilyINet}
	return &NFTables{
		conn:  conn,
		table: table,
		set4: &nftables.Set{
			Name:          SetAllowed4,
			Table:         table,
			KeyType:       nftables.MustConcatSetType(nftables.TypeIPAddr, nftables.TypeInetService),
			Concatenation: true,
		},
		set6: &nftables.Set{
			Name:          SetAllowed6,
			Table:         table,
			KeyType:       nftables.MustConcatSetType(nftables.TypeIP6Addr, nftables.TypeInetService),
			Concatenation: true,
		},
		protectedPort: protectedPort,
	}, nil
}

// Setup replaces the knockd table with a fresh one containing the allow sets,
// the set lookups and the protected-port drop rule. Existing grants are lost,
// which matches a restart of the daemon.
func (n *NFTables) Setup(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	// add+del+add in one batch: works whether or not the table exists.
	n.conn.AddTable(n.table)
	n.conn.DelTable(n.table)
	n.conn.AddTable(n.table)

	policy := nftables.ChainPolicyAccept
	chain := n.conn.AddChain(&nftables.Chain{
		Name:     inputChain,
		Table:    n.table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
		Policy:   &policy,
	})

	if err := n.conn.AddSet(n.set4, nil); err != nil {
		return fmt.Errorf("add set %s: %w", n.set4.Name, err)
	}
	if err := n.conn.AddSet(n.set6, nil); err != nil {
		return fmt.Errorf("add set %s: %w", n.set6.Name, err)
	}

	n.conn.AddRule(&nftables.Rule{Table: n.table, Chain: chain, Exprs: allowExprs(unix.NFPROTO_IPV4, n.set4)})
	n.conn.AddRule(&nftables.Rule{Table: n.table, Chain: chain, Exprs: allowExprs(unix.NFPROTO_IPV6, n.set6)})
	n.conn.AddRule(&nftables.Rule{Table: n.table, Chain: chain, Exprs: dropExprs(n.protectedPort)})

	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("apply knockd table: %w", err)
	}
	n.ready = true
	return nil
}

// Grant adds (addr . port) to the matching allow set.
func (n *NFTables) Grant(ctx context.Context, addr string, port int) error {
	set, key, err := n.element(addr, port)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ready {
		return ErrNotReady
	}
	if err := n.conn.SetAddElements(set, []nftables.SetElement{{Key: key}}); err != nil {
		return fmt.Errorf("add element: %w", err)
	}
	if err := n.conn.Flush(); err != nil {
		return fmt.Errorf("grant %s port %d: %w", addr, port, err)
	}
	return nil
}

// Revoke deletes (addr . port) from the allow set. ENOENT means the element
// is already gone.
func (n *NFTables) Revoke(ctx context.Context, addr string, port int) error {
	set, key, err := n.element(addr, port)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ready {
		return ErrNotReady
	}
	if err := n.conn.SetDeleteElements(set, []nftables.SetElement{{Key: key}}); err != nil {
		return fmt.Errorf("delete element: %w", err)
	}
	if err := n.conn.Flush(); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil
		}
		return fmt.Errorf("revoke %s port %d: %w", addr, port, err)
	}
	return nil
}

// Close leaves the table in place so the protected port stays closed.
func (n *NFTables) Close() error { return nil }

func (n *NFTables) element(addr string, port int) (*nftables.Set, []byte, error) {
	ip, err := parseAddr(addr)
	if err != nil {
		return nil, nil, err
	}
	if err := validPort(port); err != nil {
		return nil, nil, err
	}
	if ip.Is4() {
		return n.set4, elementKey(ip, port), nil
	}
	return n.set6, elementKey(ip, port), nil
}

// elementKey encodes addr . port. Each concatenated field is padded to a
// 4-byte register boundary.
func elementKey(ip netip.Addr, port int) []byte {
	key := append([]byte(nil), ip.AsSlice()...)
	key = append(key, binaryutil.BigEndian.PutUint16(uint16(port))...)
	return append(key, 0, 0)
}

// allowExprs builds: meta nfproto <family> meta l4proto tcp
// <ip|ip6> saddr . tcp dport @set accept
func allowExprs(family byte, set *nftables.Set) []expr.Any {
	addrOffset, addrLen, portReg := uint32(12), uint32(4), uint32(9)
	if family == unix.NFPROTO_IPV6 {
		addrOffset, addrLen, portReg = 8, 16, 2
	}

	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyNFPROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{family}},
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.IPPROTO_TCP}},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       addrOffset,
			Len:          addrLen,
		},
		&expr.Payload{
			DestRegister: portReg,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2,
			Len:          2,
		},
		&expr.Lookup{SourceRegister: 1, SetName: set.Name, SetID: set.ID},
		&expr.Verdict{Kind: expr.VerdictAccept},
	}
}

// dropExprs builds: meta l4proto tcp tcp dport <port> drop
func dropExprs(port int) []expr.Any {
	return []expr.Any{
		&expr.Meta{Key: expr.MetaKeyL4PROTO, Register: 1},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: []byte{unix.IPPROTO_TCP}},
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseTransportHeader,
			Offset:       2,
			Len:          2,
		},
		&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: binaryutil.BigEndian.PutUint16(uint16(port))},
		&expr.Verdict{Kind: expr.VerdictDrop},
	}
}

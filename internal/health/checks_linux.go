//go:build linux

package health

import (
	"context"
	"fmt"

	"github.com/google/nftables"
)

// TableLister is the part of *nftables.Conn the table check uses.
type TableLister interface {
	ListTablesOfFamily(family nftables.TableFamily) ([]*nftables.Table, error)
}

// NFTablesTableCheck verifies the knockd table is still installed. A
// missing table means the default-drop rule is gone.
func NFTablesTableCheck(conn TableLister, table string) CheckFunc {
	return func(ctx context.Context) Check {
		c := conn
		if c == nil {
			nc, err := nftables.New()
			if err != nil {
				return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("failed to open nftables connection: %v", err)}
			}
			c = nc
		}

		tables, err := c.ListTablesOfFamily(nftables.TableFamilyINet)
		if err != nil {
			return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("failed to list tables: %v", err)}
		}
		for _, t := range tables {
			if t.Name == table {
				return Check{Status: StatusHealthy, Message: fmt.Sprintf("table inet %s present", table)}
			}
		}
		return Check{Status: StatusUnhealthy, Message: fmt.Sprintf("table inet %s missing", table)}
	}
}

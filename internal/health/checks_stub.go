//go:build !linux

package health

import "context"

// NFTablesTableCheck reports nftables as unavailable on this OS.
func NFTablesTableCheck(_ any, table string) CheckFunc {
	return func(ctx context.Context) Check {
		return Check{Status: StatusUnhealthy, Message: "nftables unsupported on this OS"}
	}
}

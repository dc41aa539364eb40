//go:build !linux

package firewall

import "grimm.is/knockd/internal/logging"

// NewNFTables is only available on Linux.
func NewNFTables(_ any, tableName string, protectedPort int) (Backend, error) {
	return nil, ErrUnsupported
}

// NewIPTables is only available on Linux.
func NewIPTables(chain string, protectedPort int, logger *logging.Logger) (Backend, error) {
	return nil, ErrUnsupported
}

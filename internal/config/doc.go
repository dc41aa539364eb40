// Package config handles HCL configuration parsing, defaults and validation.
//
// # Overview
//
// knockd reads a single HCL file (default /etc/knockd/knockd.hcl). Every
// block is optional; missing values fall back to the defaults in [Default].
//
// # Configuration Blocks
//
//   - knock: sentinel port sequence, protected port, window, grant TTL
//   - firewall: packet-filter backend selection
//   - metrics: Prometheus endpoint
//   - audit: append-only access history database
//   - log: level and output format
//
// # Functions
//
// String attributes may call env("NAME") to read an environment variable,
// for example `listen = env("KNOCKD_METRICS_LISTEN")`.
//
// # Example
//
//	knock {
//	  sequence       = [1234, 5678, 9012]
//	  protected_port = 2222
//	  window         = "10s"
//	  grant_ttl      = "60s"
//	}
package config

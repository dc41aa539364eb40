// Package firewall manages the packet-filter rules that open the protected
// port for a single source address.
//
// # Overview
//
// A [Backend] bootstraps a default-drop rule for the protected port in Setup,
// then adds and removes per-address accept rules with Grant and Revoke. Both
// mutations are idempotent: granting twice leaves one rule, and revoking a
// rule that does not exist succeeds.
//
// # Implementations
//
//   - nftables (Linux): native netlink via github.com/google/nftables. A table
//     "inet knockd" holds an input chain and two concatenated sets,
//     ipv4_addr . inet_service and ipv6_addr . inet_service. Grants are set
//     elements, so the rule set itself never changes after Setup.
//   - iptables (Linux): github.com/coreos/go-iptables, one ACCEPT rule per
//     grant inserted above a DROP rule.
//   - memory: an in-process rule set used by tests and dry runs.
//
// [NewRetrying] and [NewInstrumented] decorate any backend with exponential
// backoff and Prometheus accounting respectively. [New] builds the stack the
// daemon uses from configuration.
package firewall

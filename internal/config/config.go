package config

import "time"

// CurrentSchemaVersion is written by `knockd check` and assumed when a file omits it.
const CurrentSchemaVersion = "1.0"

// Backend names accepted by firewall.backend.
const (
	BackendNFTables = "nftables"
	BackendIPTables = "iptables"
	BackendMemory   = "memory"
)

// Config is the top-level configuration structure.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional" json:"schema_version,omitempty"`

	Knock    *KnockConfig    `hcl:"knock,block" json:"knock"`
	Firewall *FirewallConfig `hcl:"firewall,block" json:"firewall"`
	Metrics  *MetricsConfig  `hcl:"metrics,block" json:"metrics,omitempty"`
	Audit    *AuditConfig    `hcl:"audit,block" json:"audit,omitempty"`
	Log      *LogConfig      `hcl:"log,block" json:"log,omitempty"`
}

// KnockConfig describes the knock protocol itself. It is immutable once the
// server has started.
type KnockConfig struct {
	// Sequence is the ordered list of sentinel ports (at least two, distinct).
	Sequence      []int  `hcl:"sequence,optional" json:"sequence"`
	ProtectedPort int    `hcl:"protected_port,optional" json:"protected_port"`
	Window        string `hcl:"window,optional" json:"window"`       // e.g. "10s"
	GrantTTL      string `hcl:"grant_ttl,optional" json:"grant_ttl"` // e.g. "60s"
	ListenAddress string `hcl:"listen_address,optional" json:"listen_address,omitempty"`
}

// FirewallConfig selects and parameterises the packet-filter backend.
type FirewallConfig struct {
	Backend string `hcl:"backend,optional" json:"backend"`
	Table   string `hcl:"table,optional" json:"table,omitempty"` // nftables table name
	Chain   string `hcl:"chain,optional" json:"chain,omitempty"` // iptables chain, default INPUT
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `hcl:"enabled,optional" json:"enabled"`
	Listen  string `hcl:"listen,optional" json:"listen,omitempty"`
}

// AuditConfig controls the access history database. An empty path disables it.
type AuditConfig struct {
	Path          string `hcl:"path,optional" json:"path,omitempty"`
	RetentionDays int    `hcl:"retention_days,optional" json:"retention_days,omitempty"`
}

// LogConfig controls log verbosity and format.
type LogConfig struct {
	Level string `hcl:"level,optional" json:"level,omitempty"`
	JSON  bool   `hcl:"json,optional" json:"json,omitempty"`
}

// Defaults used when a value is missing from the file.
var (
	DefaultSequence      = []int{1234, 5678, 9012}
	DefaultProtectedPort = 2222
	DefaultWindow        = 10 * time.Second
	DefaultGrantTTL      = 60 * time.Second
	DefaultListenAddress = "0.0.0.0"
	DefaultNFTTable      = "knockd"
	DefaultIPTChain      = "INPUT"
	DefaultMetricsListen = "127.0.0.1:9127"
	DefaultRetentionDays = 90
)

// Default returns a configuration populated entirely with defaults.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in missing blocks and zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.SchemaVersion == "" {
		c.SchemaVersion = CurrentSchemaVersion
	}

	if c.Knock == nil {
		c.Knock = &KnockConfig{}
	}
	if len(c.Knock.Sequence) == 0 {
		c.Knock.Sequence = append([]int(nil), DefaultSequence...)
	}
	if c.Knock.ProtectedPort == 0 {
		c.Knock.ProtectedPort = DefaultProtectedPort
	}
	if c.Knock.Window == "" {
		c.Knock.Window = DefaultWindow.String()
	}
	if c.Knock.GrantTTL == "" {
		c.Knock.GrantTTL = DefaultGrantTTL.String()
	}
	if c.Knock.ListenAddress == "" {
		c.Knock.ListenAddress = DefaultListenAddress
	}

	if c.Firewall == nil {
		c.Firewall = &FirewallConfig{}
	}
	if c.Firewall.Backend == "" {
		c.Firewall.Backend = BackendNFTables
	}
	if c.Firewall.Table == "" {
		c.Firewall.Table = DefaultNFTTable
	}
	if c.Firewall.Chain == "" {
		c.Firewall.Chain = DefaultIPTChain
	}

	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}

	if c.Audit == nil {
		c.Audit = &AuditConfig{}
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = DefaultRetentionDays
	}

	if c.Log == nil {
		c.Log = &LogConfig{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// WindowDuration returns the parsed knock window. Call Validate first;
// an unparseable value yields zero.
func (k *KnockConfig) WindowDuration() time.Duration {
	d, _ := time.ParseDuration(k.Window)
	return d
}

// GrantTTLDuration returns the parsed grant time-to-live.
func (k *KnockConfig) GrantTTLDuration() time.Duration {
	d, _ := time.ParseDuration(k.GrantTTL)
	return d
}

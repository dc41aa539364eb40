package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadHCL_FullConfig(t *testing.T) {
	hcl := `
schema_version = "1.0"

knock {
  sequence       = [7000, 8000, 9000]
  protected_port = 22
  window         = "5s"
  grant_ttl      = "2m"
  listen_address = "127.0.0.1"
}

firewall {
  backend = "iptables"
  chain   = "KNOCK"
}

metrics {
  enabled = true
  listen  = "127.0.0.1:9200"
}

audit {
  path           = "/tmp/knockd-audit.db"
  retention_days = 7
}

log {
  level = "debug"
  json  = true
}
`
	cfg, err := LoadHCL([]byte(hcl), "test.hcl")
	if err != nil {
		t.Fatalf("LoadHCL() error = %v", err)
	}

	k := cfg.Knock
	if len(k.Sequence) != 3 || k.Sequence[0] != 7000 || k.Sequence[2] != 9000 {
		t.Errorf("Sequence = %v, want [7000 8000 9000]", k.Sequence)
	}
	if k.ProtectedPort != 22 {
		t.Errorf("ProtectedPort = %d, want 22", k.ProtectedPort)
	}
	if k.WindowDuration() != 5*time.Second {
		t.Errorf("WindowDuration() = %v, want 5s", k.WindowDuration())
	}
	if k.GrantTTLDuration() != 2*time.Minute {
		t.Errorf("GrantTTLDuration() = %v, want 2m", k.GrantTTLDuration())
	}
	if cfg.Firewall.Backend != BackendIPTables || cfg.Firewall.Chain != "KNOCK" {
		t.Errorf("Firewall = %+v", cfg.Firewall)
	}
	if cfg.Firewall.Table != DefaultNFTTable {
		t.Errorf("Firewall.Table = %q, want default %q", cfg.Firewall.Table, DefaultNFTTable)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Listen != "127.0.0.1:9200" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
	if cfg.Audit.Path != "/tmp/knockd-audit.db" || cfg.Audit.RetentionDays != 7 {
		t.Errorf("Audit = %+v", cfg.Audit)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestLoadHCL_EmptyUsesDefaults(t *testing.T) {
	cfg, err := LoadHCL([]byte(""), "empty.hcl")
	if err != nil {
		t.Fatalf("LoadHCL() error = %v", err)
	}

	if cfg.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", cfg.SchemaVersion, CurrentSchemaVersion)
	}
	if len(cfg.Knock.Sequence) != 3 || cfg.Knock.Sequence[0] != 1234 || cfg.Knock.Sequence[1] != 5678 || cfg.Knock.Sequence[2] != 9012 {
		t.Errorf("Sequence = %v, want default", cfg.Knock.Sequence)
	}
	if cfg.Knock.ProtectedPort != 2222 {
		t.Errorf("ProtectedPort = %d, want 2222", cfg.Knock.ProtectedPort)
	}
	if cfg.Knock.WindowDuration() != 10*time.Second {
		t.Errorf("WindowDuration() = %v, want 10s", cfg.Knock.WindowDuration())
	}
	if cfg.Knock.GrantTTLDuration() != 60*time.Second {
		t.Errorf("GrantTTLDuration() = %v, want 60s", cfg.Knock.GrantTTLDuration())
	}
	if cfg.Firewall.Backend != BackendNFTables {
		t.Errorf("Backend = %q, want %q", cfg.Firewall.Backend, BackendNFTables)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics should be disabled by default")
	}
	if cfg.Audit.Path != "" {
		t.Error("Audit should be disabled by default")
	}
}

func TestLoadHCL_EnvFunction(t *testing.T) {
	t.Setenv("KNOCKD_TEST_LISTEN", "127.0.0.1:9999")

	hcl := `
metrics {
  enabled = true
  listen  = env("KNOCKD_TEST_LISTEN")
}
`
	cfg, err := LoadHCL([]byte(hcl), "env.hcl")
	if err != nil {
		t.Fatalf("LoadHCL() error = %v", err)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9999" {
		t.Errorf("Metrics.Listen = %q, want value from env", cfg.Metrics.Listen)
	}
}

func TestLoadHCL_Errors(t *testing.T) {
	tests := []struct {
		name    string
		hcl     string
		wantErr string
	}{
		{"syntax", `knock {`, "HCL parse error"},
		{"unknown attribute", `bogus = 1`, "HCL decode error"},
		{"schema version", `schema_version = "9.0"`, "unsupported config schema version"},
		{"single port", `knock { sequence = [1234] }`, "at least 2 ports"},
		{"duplicate port", `knock { sequence = [1234, 1234] }`, "appears more than once"},
		{"port range", `knock { sequence = [1234, 70000] }`, "between 1 and 65535"},
		{"protected in sequence", `
knock {
  sequence       = [1234, 2222]
  protected_port = 2222
}`, "also a sentinel port"},
		{"bad window", `knock { window = "soon" }`, "invalid duration"},
		{"negative ttl", `knock { grant_ttl = "-1s" }`, "must be positive"},
		{"listen address", `knock { listen_address = "not-an-ip" }`, "invalid IP address"},
		{"backend", `firewall { backend = "pf" }`, "unknown backend"},
		{"metrics listen", `
metrics {
  enabled = true
  listen  = "nope"
}`, "metrics.listen"},
		{"log level", `log { level = "chatty" }`, "log.level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadHCL([]byte(tc.hcl), "bad.hcl")
			if err == nil {
				t.Fatal("LoadHCL() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knockd.hcl")
	if err := os.WriteFile(path, []byte(`knock { protected_port = 2022 }`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Knock.ProtectedPort != 2022 {
		t.Errorf("ProtectedPort = %d, want 2022", cfg.Knock.ProtectedPort)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.hcl")); err == nil {
		t.Error("LoadFile() on a missing file should fail")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Knock.Sequence = []int{0}
	cfg.Knock.Window = "0s"
	cfg.Firewall.Backend = "bogus"

	errs := cfg.Validate()
	if len(errs) < 4 {
		t.Errorf("Validate() returned %d errors, want at least 4: %v", len(errs), errs)
	}
	if !errs.HasErrors() {
		t.Error("HasErrors() = false")
	}
	if Default().Validate().HasErrors() {
		t.Errorf("Default config should be valid: %v", Default().Validate())
	}
}

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCheck_ValidConfig(t *testing.T) {
	out := captureOutput(t)
	configPath := writeConfig(t, `
knock {
  sequence       = [7000, 8000, 9000]
  protected_port = 2022
  window         = "5s"
}
`)

	require.NoError(t, RunCheck(configPath, false))
	assert.Contains(t, out.String(), "Configuration valid!")
	assert.Contains(t, out.String(), "Sequence: 7000,8000,9000")
	assert.Contains(t, out.String(), "Protected Port: 2022")
	assert.NotContains(t, out.String(), "SETTING")
}

func TestRunCheck_Verbose(t *testing.T) {
	out := captureOutput(t)
	configPath := writeConfig(t, `
knock {
  sequence = [7000, 8000]
}
firewall {
  backend = "iptables"
  chain   = "KNOCK"
}
audit {
  path = "/tmp/knockd-audit.db"
}
`)

	require.NoError(t, RunCheck(configPath, true))
	s := out.String()
	assert.Contains(t, s, "STEP")
	assert.Contains(t, s, "7000")
	assert.Contains(t, s, "firewall.chain")
	assert.Contains(t, s, "KNOCK")
	assert.Contains(t, s, "/tmp/knockd-audit.db")
	assert.Contains(t, s, "grant_ttl")
}

func TestRunCheck_InvalidConfig(t *testing.T) {
	captureOutput(t)

	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "knock {\n  # missing closing brace\n"},
		{"short sequence", `knock { sequence = [1234] }`},
		{"protected is sentinel", `knock {
  sequence       = [1234, 2222]
  protected_port = 2222
}`},
		{"backend", `firewall { backend = "pf" }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, RunCheck(writeConfig(t, tt.content), false))
		})
	}
}

func TestRunCheck_MissingPath(t *testing.T) {
	err := RunCheck("", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "usage:")
}

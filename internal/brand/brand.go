// Package brand provides centralized naming constants for knockd.
//
// Directory defaults can be overridden through environment variables that
// share the KNOCKD_ prefix, which is how the packaging scripts and the
// integration tests relocate the daemon.
package brand

import (
	"os"
	"path/filepath"
)

const (
	Name            = "knockd"
	Description     = "Port-knocking access daemon"
	ConfigEnvPrefix = "KNOCKD"

	DefaultConfigDir = "/etc/knockd"
	DefaultStateDir  = "/var/lib/knockd"

	BinaryName     = "knockd"
	ConfigFileName = "knockd.hcl"
	AuditFileName  = "audit.db"
)

var (
	// Version is set at build time via -ldflags
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// GetConfigDir returns the config directory, checking env vars first.
// Priority: KNOCKD_CONFIG_DIR > KNOCKD_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// GetStateDir returns the state directory, checking env vars first.
// Priority: KNOCKD_STATE_DIR > KNOCKD_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(ConfigEnvPrefix + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(ConfigEnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// DefaultConfigPath is the config file used when none is given on the command line.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// DefaultAuditPath is where the access audit database lives unless configured.
func DefaultAuditPath() string {
	return filepath.Join(GetStateDir(), AuditFileName)
}

// VersionString returns a one-line version banner.
func VersionString() string {
	return Name + " " + Version + " (" + GitCommit + ", built " + BuildTime + ")"
}

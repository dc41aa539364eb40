package cmd

import (
	"fmt"
	"text/tabwriter"

	"grimm.is/knockd/internal/brand"
	"grimm.is/knockd/internal/config"
	"grimm.is/knockd/internal/knock"
)

// RunCheck validates the configuration file syntax and semantics.
func RunCheck(configFile string, verbose bool) error {
	if len(configFile) == 0 {
		return fmt.Errorf("usage: %s check [-v] <config-file>\nExample: %s check -v %s",
			brand.BinaryName, brand.BinaryName, brand.DefaultConfigPath())
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	settings := knock.SettingsFromConfig(cfg.Knock)
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	Printer.Fprintf(stdout, "Configuration valid!\n")
	Printer.Fprintf(stdout, "Schema Version: %s\n", cfg.SchemaVersion)
	Printer.Fprintf(stdout, "Sequence: %s\n", ports(settings.Sequence))
	Printer.Fprintf(stdout, "Protected Port: %s\n", port(settings.ProtectedPort))

	if verbose {
		Printer.Fprintln(stdout)
		printSummary(cfg, settings)
	}
	return nil
}

func printSummary(cfg *config.Config, settings knock.Settings) {
	w := tabwriter.NewWriter(stdout, 0, 0, 3, ' ', 0)

	Printer.Fprintln(w, "STEP\tPORT\tADDRESS")
	for i, p := range settings.Sequence {
		Printer.Fprintf(w, "%d\t%s\t%s\n", i+1, port(p), settings.ListenAddress)
	}
	Printer.Fprintln(w)
	w.Flush()

	Printer.Fprintln(w, "SETTING\tVALUE")
	Printer.Fprintf(w, "window\t%s\n", settings.Window)
	Printer.Fprintf(w, "grant_ttl\t%s\n", settings.GrantTTL)
	Printer.Fprintf(w, "firewall.backend\t%s\n", cfg.Firewall.Backend)
	switch cfg.Firewall.Backend {
	case config.BackendNFTables:
		Printer.Fprintf(w, "firewall.table\tinet %s\n", cfg.Firewall.Table)
	case config.BackendIPTables:
		Printer.Fprintf(w, "firewall.chain\t%s\n", cfg.Firewall.Chain)
	}

	metricsState := "disabled"
	if cfg.Metrics.Enabled {
		metricsState = cfg.Metrics.Listen
	}
	Printer.Fprintf(w, "metrics\t%s\n", metricsState)

	auditState := "disabled"
	if cfg.Audit.Path != "" {
		auditState = fmt.Sprintf("%s (%d days)", cfg.Audit.Path, cfg.Audit.RetentionDays)
	}
	Printer.Fprintf(w, "audit\t%s\n", auditState)
	Printer.Fprintf(w, "log.level\t%s\n", cfg.Log.Level)
	w.Flush()
}

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"grimm.is/knockd/cmd"
	"grimm.is/knockd/internal/brand"
	"grimm.is/knockd/internal/client"
	"grimm.is/knockd/internal/config"
	"grimm.is/knockd/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve", "start":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := serveFlags.String("config", brand.DefaultConfigPath(), "Configuration file")
		serveFlags.StringVar(configFile, "c", brand.DefaultConfigPath(), "Configuration file (short)")

		dryRun := serveFlags.Bool("dry-run", false, "Track knocks but only simulate firewall changes")
		serveFlags.BoolVar(dryRun, "n", false, "Dry run (short)")
		serveFlags.Parse(os.Args[2:])

		if err := cmd.RunServe(*configFile, *dryRun); err != nil {
			printer.Fprintf(os.Stderr, "Serve failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Verbose output")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		checkFlags.Parse(os.Args[2:])

		configFile := brand.DefaultConfigPath()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}

		if err := cmd.RunCheck(configFile, *verbose); err != nil {
			printer.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "knock":
		knockFlags := flag.NewFlagSet("knock", flag.ExitOnError)
		opts := cmd.KnockOptions{}
		knockFlags.StringVar(&opts.Target, "target", "", "Target host or IP (required)")
		knockFlags.StringVar(&opts.Target, "t", "", "Target (short)")
		knockFlags.StringVar(&opts.Sequence, "sequence", defaultSequence(), "Comma-separated knock ports")
		knockFlags.StringVar(&opts.Sequence, "s", defaultSequence(), "Sequence (short)")
		knockFlags.IntVar(&opts.ProtectedPort, "protected-port", config.DefaultProtectedPort, "Protected service port")
		knockFlags.DurationVar(&opts.Delay, "delay", client.DefaultDelay, "Delay between knocks")
		knockFlags.BoolVar(&opts.Check, "check", false, "Probe the protected port after knocking")
		knockFlags.DurationVar(&opts.CheckTimeout, "check-timeout", 5*time.Second, "Connect timeout for --check")
		knockFlags.Parse(os.Args[2:])

		if opts.Target == "" && knockFlags.NArg() > 0 {
			opts.Target = knockFlags.Arg(0)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err := cmd.RunKnock(ctx, opts, nil)
		stop()
		if errors.Is(err, cmd.ErrStillClosed) {
			os.Exit(2)
		}
		if err != nil {
			printer.Fprintf(os.Stderr, "Knock failed: %v\n", err)
			os.Exit(1)
		}

	case "audit":
		auditFlags := flag.NewFlagSet("audit", flag.ExitOnError)
		opts := cmd.AuditOptions{}
		auditFlags.StringVar(&opts.DBPath, "db", brand.DefaultAuditPath(), "Audit database")
		auditFlags.IntVar(&opts.Limit, "limit", 50, "Maximum records to show")
		auditFlags.IntVar(&opts.Limit, "n", 50, "Maximum records (short)")
		auditFlags.StringVar(&opts.Address, "address", "", "Only records for this source address")
		auditFlags.StringVar(&opts.Action, "action", "", "Only this action (grant, revoke, stale, failure)")
		auditFlags.DurationVar(&opts.Since, "since", 0, "Only records newer than this, e.g. 24h")
		auditFlags.BoolVar(&opts.JSON, "json", false, "Print JSON lines")
		auditFlags.Parse(os.Args[2:])

		if err := cmd.RunAudit(context.Background(), opts); err != nil {
			printer.Fprintf(os.Stderr, "Audit failed: %v\n", err)
			os.Exit(1)
		}

	case "version":
		printer.Println(brand.VersionString())

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func defaultSequence() string {
	parts := make([]string, len(config.DefaultSequence))
	for i, p := range config.DefaultSequence {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func printUsage() {
	printer.Printf(`%s - %s

Usage:
  %s <command> [options]

Commands:
  serve     Run the knock daemon (alias: start)
            Options: --config (-c) <file>, --dry-run (-n)
  check     Validate configuration file
            Options: --verbose (-v) [config-file]
  knock     Send a knock sequence to a server
            Options: --target (-t) <host>, --sequence (-s) <ports>,
                     --protected-port <port>, --delay <dur>, --check
  audit     Show recent grants and revocations
            Options: --db <file>, --limit (-n), --address <ip>,
                     --action <action>, --since <dur>, --json
  version   Print version information
  help      Show this help

Examples:
  %s serve -c %s
  %s check -v %s
  %s knock --target 192.0.2.10 --sequence 1234,5678,9012 --check
  %s audit --since 24h --action grant
`, brand.Name, brand.Description, brand.BinaryName,
		brand.BinaryName, brand.DefaultConfigPath(),
		brand.BinaryName, brand.DefaultConfigPath(),
		brand.BinaryName, brand.BinaryName)
}

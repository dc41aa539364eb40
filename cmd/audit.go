package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"grimm.is/knockd/internal/audit"
	"grimm.is/knockd/internal/clock"
)

// AuditOptions are the inputs of `knockd audit`.
type AuditOptions struct {
	DBPath  string
	Limit   int
	Address string
	Action  string
	Since   time.Duration // 0 means no lower bound
	JSON    bool
}

// RunAudit prints recent access records, newest first.
func RunAudit(ctx context.Context, opts AuditOptions) error {
	if _, err := os.Stat(opts.DBPath); err != nil {
		return fmt.Errorf("no audit database at %s: %w", opts.DBPath, err)
	}
	switch opts.Action {
	case "", audit.ActionGrant, audit.ActionRevoke, audit.ActionStale, audit.ActionFailure:
	default:
		return fmt.Errorf("unknown action %q", opts.Action)
	}

	store, err := audit.Open(opts.DBPath, 0, clock.Default)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := audit.Filter{
		Action:  opts.Action,
		Address: opts.Address,
		Limit:   opts.Limit,
	}
	if opts.Since > 0 {
		filter.Since = clock.Now().Add(-opts.Since)
	}

	records, err := store.Query(ctx, filter)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(stdout)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	}

	if len(records) == 0 {
		Printer.Fprintln(stdout, "No matching records.")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 3, ' ', 0)
	Printer.Fprintln(w, "TIME\tACTION\tADDRESS\tPORT\tGEN\tGRANT\tERROR")
	for _, rec := range records {
		errText := "-"
		if rec.Error != "" {
			errText = rec.Error
		}
		grantID := "-"
		if rec.GrantID != "" {
			grantID = rec.GrantID
		}
		Printer.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Timestamp.Local().Format(time.RFC3339),
			rec.Action, rec.Address, port(rec.Port),
			fmt.Sprint(rec.Generation), grantID, errText)
	}
	return w.Flush()
}

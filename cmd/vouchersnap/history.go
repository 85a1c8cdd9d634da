package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/vouchersnap/vouchersnap/internal/ledger"
	"github.com/vouchersnap/vouchersnap/internal/scanner"
)

type historyOptions struct {
	limit   int
	grouped bool
	since   string
	until   string
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	ho := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "View upload history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ho.limit < 0 {
				return fmt.Errorf("--limit must be >= 0 (got %d)", ho.limit)
			}
			since, err := parseDay(ho.since, false)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			until, err := parseDay(ho.until, true)
			if err != nil {
				return fmt.Errorf("invalid --until: %w", err)
			}

			c, err := opts.openContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			if err := c.Ledger().Degraded(); err != nil {
				fmt.Fprintf(out, "Warning: history file could not be read (%v)\n", err)
			}
			if ho.grouped {
				printGroups(out, c.Ledger().GroupByTarget(since, until))
				return nil
			}

			records := inRange(c.Ledger().ListHistory(0), since, until)
			if len(records) == 0 {
				fmt.Fprintln(out, "No upload history found.")
				return nil
			}
			shown := records
			if ho.limit > 0 && len(shown) > ho.limit {
				shown = shown[:ho.limit]
			}
			fmt.Fprintf(out, "Upload History (showing %d of %d)\n\n", len(shown), len(records))
			printHistory(out, shown)
			return nil
		},
	}

	cmd.Flags().IntVarP(&ho.limit, "limit", "n", 20, "Number of records to show (0 for all)")
	cmd.Flags().BoolVar(&ho.grouped, "grouped", false, "Group uploads by observation")
	cmd.Flags().StringVar(&ho.since, "since", "", "Only uploads on or after this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&ho.until, "until", "", "Only uploads on or before this date (YYYY-MM-DD or RFC3339)")
	return cmd
}

func printGroups(w io.Writer, groups []ledger.TargetGroup) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No upload history found.")
		return
	}
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Observation %d  %s  (%d upload(s))\n", g.ObservationID, scanner.ObservationURL(g.ObservationID), len(g.Records))
		printHistory(w, g.Records)
	}
}

// parseDay accepts a calendar date in local time or a full RFC 3339
// timestamp. A bare date used as an upper bound covers the whole day.
func parseDay(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, time.Local)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return &t, nil
}

func inRange(records []ledger.UploadRecord, since, until *time.Time) []ledger.UploadRecord {
	if since == nil && until == nil {
		return records
	}
	out := records[:0:0]
	for _, r := range records {
		if since != nil && r.Timestamp.Before(*since) {
			continue
		}
		if until != nil && r.Timestamp.After(*until) {
			continue
		}
		out = append(out, r)
	}
	return out
}

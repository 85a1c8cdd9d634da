package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/vouchersnap/vouchersnap/internal/ledger"
	"github.com/vouchersnap/vouchersnap/internal/manifest"
	"github.com/vouchersnap/vouchersnap/internal/scanner"
)

const historyDateLayout = "2006-01-02 15:04"

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func printScanResults(w io.Writer, results []scanner.FileResult) {
	tw := newTable(w)
	fmt.Fprintln(tw, "FILENAME\tSTATUS\tOBSERVATION")
	for _, r := range results {
		status, obs := r.Outcome.Reason(), "-"
		if r.Outcome.Found() {
			status, obs = "Found", strconv.FormatInt(r.Outcome.TargetID, 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", filepath.Base(r.Path), status, obs)
	}
	tw.Flush()
}

func printFailures(w io.Writer, items []manifest.Item) {
	tw := newTable(w)
	fmt.Fprintln(tw, "FILENAME\tSTATUS")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\n", item.Filename, item.Outcome.Reason())
	}
	tw.Flush()
}

func printManifest(w io.Writer, items []manifest.Item) {
	tw := newTable(w)
	fmt.Fprintln(tw, "#\tFILE\tOBS ID\tTAXON\tOBSERVER\tSTATUS")
	for i, item := range items {
		taxon, observer := "Unknown", "Unknown"
		if item.Observation != nil {
			taxon = item.Observation.DisplayName()
			if item.Observation.ObserverLogin != "" {
				observer = item.Observation.ObserverLogin
			}
		}
		status := "New"
		if item.Duplicate {
			status = "Duplicate"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n", i+1, item.Filename, item.TargetID(), taxon, observer, status)
	}
	tw.Flush()
}

func printHistory(w io.Writer, records []ledger.UploadRecord) {
	tw := newTable(w)
	fmt.Fprintln(tw, "DATE\tFILENAME\tOBS ID\tCAPTION\tPHOTO ID")
	for _, r := range records {
		caption, photo := "-", "-"
		if r.Caption != nil && *r.Caption != "" {
			caption = *r.Caption
		}
		if r.PhotoID != nil {
			photo = strconv.FormatInt(*r.PhotoID, 10)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Timestamp.Format(historyDateLayout), r.Filename, r.ObservationID, caption, photo)
	}
	tw.Flush()
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vouchersnap/vouchersnap/internal/paths"
)

var errNoImages = errors.New("no supported image files found")

func newScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan PATHS...",
		Short: "Scan images for observation QR codes without uploading",
		Long: `Scan images for QR codes linking to iNaturalist observations.
PATHS can be directories, files or glob patterns (e.g. "photos/*.jpg" or "**/*.png").`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := paths.Resolve(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return errNoImages
			}

			c, err := opts.openContainer()
			if err != nil {
				return err
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Scanning %d image(s)...\n\n", len(files))

			results := c.Scanner().ScanBatch(cmd.Context(), files)
			printScanResults(out, results)

			found := 0
			for _, r := range results {
				if r.Outcome.Found() {
					found++
				}
			}
			fmt.Fprintf(out, "\nFound QR codes in %d/%d image(s)\n", found, len(results))
			return nil
		},
	}
}

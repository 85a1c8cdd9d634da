package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vouchersnap/vouchersnap/internal/inat"
	"github.com/vouchersnap/vouchersnap/internal/ledger"
	"github.com/vouchersnap/vouchersnap/internal/logger"
	"github.com/vouchersnap/vouchersnap/internal/manifest"
	"github.com/vouchersnap/vouchersnap/internal/observer"
	"github.com/vouchersnap/vouchersnap/internal/paths"
	"github.com/vouchersnap/vouchersnap/internal/render"
)

type runOptions struct {
	caption        string
	maxSize        int
	quality        int
	skipDuplicates bool
	yes            bool
	dryRun         bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run PATHS...",
		Short: "Scan, review and upload specimen photos",
		Long: `Scan images for observation QR codes, show the upload manifest and,
after confirmation, resize, caption and upload each photo to its observation.
PATHS can be directories, files or glob patterns.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, opts, ro, args)
		},
	}

	cmd.Flags().StringVarP(&ro.caption, "caption", "c", "", "Caption to overlay on images")
	cmd.Flags().IntVar(&ro.maxSize, "max-size", 0, "Max image dimension (default from config, 2048)")
	cmd.Flags().IntVar(&ro.quality, "quality", 0, "JPEG quality 1-100 (default from config, 85)")
	cmd.Flags().BoolVar(&ro.skipDuplicates, "skip-duplicates", false, "Skip previously uploaded images without prompting")
	cmd.Flags().BoolVarP(&ro.yes, "yes", "y", false, "Answer every prompt with its default")
	cmd.Flags().BoolVar(&ro.dryRun, "dry-run", false, "Show the manifest without uploading")
	return cmd
}

func runUpload(cmd *cobra.Command, opts *rootOptions, ro *runOptions, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	ask := newPrompter(cmd.InOrStdin(), out, ro.yes)

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
	cfg := c.Config()

	renderOpts := render.Options{MaxDimension: cfg.MaxDimension, JPEGQuality: cfg.JPEGQuality, Caption: ro.caption}
	if cmd.Flags().Changed("max-size") {
		renderOpts.MaxDimension = ro.maxSize
	}
	if cmd.Flags().Changed("quality") {
		renderOpts.JPEGQuality = ro.quality
	}
	if err := renderOpts.Validate(); err != nil {
		return err
	}

	client := c.Client()
	if !ro.dryRun && !client.Authenticated() {
		return fmt.Errorf("%w: run 'vouchersnap login' first", inat.ErrNotAuthenticated)
	}

	fmt.Fprintf(out, "Found %d image(s)\n", len(files))
	fmt.Fprintln(out, "Scanning for QR codes...")

	m, err := c.Assembler().Build(ctx, files)
	if err != nil {
		return err
	}
	if len(m.Failed) > 0 {
		fmt.Fprintln(out)
		printFailures(out, m.Failed)
	}
	if len(m.Items) == 0 {
		return errors.New("no valid iNaturalist QR codes found in any images")
	}
	fmt.Fprintf(out, "\nFound QR codes in %d image(s)\n\n", len(m.Items))
	printManifest(out, m.Items)
	fmt.Fprintln(out)

	items := m.Candidates(false)
	if dups := m.Duplicates(); len(dups) > 0 {
		include := false
		if !ro.skipDuplicates {
			fmt.Fprintf(out, "Warning: %d image(s) have been uploaded before.\n", len(dups))
			if include, err = ask.confirm("Include duplicate images in upload?", false); err != nil {
				return err
			}
		}
		if !include {
			items = m.Candidates(true)
		}
		if len(items) == 0 {
			fmt.Fprintln(out, "All images are duplicates. Nothing to upload.")
			return nil
		}
	}

	if !cmd.Flags().Changed("caption") {
		add, err := ask.confirm("Add a caption to the images?", false)
		if err != nil {
			return err
		}
		if add {
			if renderOpts.Caption, err = ask.ask("Enter caption text"); err != nil {
				return err
			}
		}
	}
	if renderOpts.Caption != "" {
		fmt.Fprintf(out, "Caption: %s\n", renderOpts.Caption)
	}

	if ro.dryRun {
		fmt.Fprintf(out, "Dry run: %d image(s) would be uploaded.\n", len(items))
		return nil
	}

	question := fmt.Sprintf("Upload %d image(s) to iNaturalist?", len(items))
	if n := countDuplicates(items); n > 0 {
		question = fmt.Sprintf("Upload %d image(s) (%d duplicate(s)) to iNaturalist?", len(items), n)
	}
	ok, err := ask.confirm(question, true)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(out, "Upload cancelled.")
		return nil
	}

	fmt.Fprintln(out, "\nUploading images...")
	var succeeded, failed int
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := uploadOne(ctx, client, c.Ledger(), c.Events(), item, renderOpts); err != nil {
			fmt.Fprintf(out, "Error: failed to upload %s: %v\n", item.Filename, err)
			failed++
			continue
		}
		succeeded++
		fmt.Fprintf(out, "  [%d/%d] %s -> observation %d\n", i+1, len(items), item.Filename, item.TargetID())
	}

	fmt.Fprintln(out, "\nUpload Summary")
	fmt.Fprintf(out, "  Total:      %d\n", len(items))
	fmt.Fprintf(out, "  Successful: %d\n", succeeded)
	if failed > 0 {
		fmt.Fprintf(out, "  Failed:     %d\n", failed)
	}
	if skipped := len(items) - succeeded - failed; skipped > 0 {
		fmt.Fprintf(out, "  Skipped:    %d\n", skipped)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d upload(s) failed", failed)
	}
	return nil
}

// uploadOne renders, uploads and records a single item. The record is only
// written once the remote service has accepted the photo.
func uploadOne(ctx context.Context, client inat.Client, history *ledger.Ledger, events observer.Subject, item manifest.Item, opts render.Options) error {
	start := time.Now()

	data, err := render.Render(item.Path, opts)
	if err != nil {
		return err
	}
	photoID, err := client.UploadPhoto(ctx, item.TargetID(), item.Filename, data)
	if err != nil {
		return err
	}
	rec, err := history.CreateRecord(item.Digest, item.TargetID(), item.Filename,
		ledger.WithCaption(opts.Caption), ledger.WithPhotoID(photoID))
	if err != nil {
		// the photo is on the server but the ledger missed it
		logger.WithError(err).WithFields(logrus.Fields{
			"path":           item.Path,
			"observation_id": item.TargetID(),
			"photo_id":       photoID,
		}).Error("Upload not recorded in history")
		return err
	}

	events.NotifyObservers(ctx, observer.ScanEvent{
		EventType: observer.UploadRecorded,
		Timestamp: rec.Timestamp,
		Path:      item.Path,
		TargetID:  item.TargetID(),
		Duration:  time.Since(start),
		Metadata:  map[string]interface{}{"photo_id": photoID, "digest": item.Digest},
	})
	return nil
}

func countDuplicates(items []manifest.Item) int {
	n := 0
	for _, item := range items {
		if item.Duplicate {
			n++
		}
	}
	return n
}

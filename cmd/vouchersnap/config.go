package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vouchersnap/vouchersnap/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	var (
		clientID string
		maxSize  int
		quality  int
		backend  string
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change settings",
		Long: `Without flags, print the current settings. With flags, update them
and write them to config.yaml in the application directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			flags := cmd.Flags()
			if !flags.Changed("client-id") && !flags.Changed("max-size") &&
				!flags.Changed("quality") && !flags.Changed("backend") {
				printConfig(out, cfg)
				return nil
			}

			if flags.Changed("client-id") {
				cfg.ClientID = clientID
			}
			if flags.Changed("max-size") {
				cfg.MaxDimension = maxSize
			}
			if flags.Changed("quality") {
				cfg.JPEGQuality = quality
			}
			if flags.Changed("backend") {
				cfg.SetLedgerBackend(backend)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Fprintln(out, "Configuration saved!")
			fmt.Fprintf(out, "Config file: %s\n", cfg.FilePath())
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "iNaturalist application client id")
	cmd.Flags().IntVar(&maxSize, "max-size", config.DefaultMaxDimension, "Default max image dimension")
	cmd.Flags().IntVar(&quality, "quality", config.DefaultJPEGQuality, "Default JPEG quality 1-100")
	cmd.Flags().StringVar(&backend, "backend", config.LedgerBackendJSON, "History backend: json or sqlite")
	return cmd
}

func printConfig(w io.Writer, cfg *config.Config) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "(not set)"
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "Config file:\t%s\n", cfg.FilePath())
	fmt.Fprintf(tw, "History:\t%s (%s)\n", cfg.HistoryPath, cfg.LedgerBackend)
	fmt.Fprintf(tw, "Token file:\t%s\n", cfg.TokenPath)
	fmt.Fprintf(tw, "Client id:\t%s\n", clientID)
	fmt.Fprintf(tw, "API:\t%s\n", cfg.APIBaseURL)
	fmt.Fprintf(tw, "Max size:\t%d\n", cfg.MaxDimension)
	fmt.Fprintf(tw, "JPEG quality:\t%d\n", cfg.JPEGQuality)
	fmt.Fprintf(tw, "Scan targets:\t%v\n", cfg.ScanTargets)
	fmt.Fprintf(tw, "Workers:\t%d\n", cfg.ScanWorkers())
	tw.Flush()
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vouchersnap/vouchersnap/internal/config"
	"github.com/vouchersnap/vouchersnap/internal/container"
	"github.com/vouchersnap/vouchersnap/internal/logger"
)

// rootOptions carries the persistent flags shared by every subcommand.
type rootOptions struct {
	home     string
	logLevel string
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.home)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (o *rootOptions) openContainer() (*container.Container, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	c, err := container.NewContainer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return c, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "vouchersnap",
		Short: "Herbarium specimen photo manager",
		Long: `Scan specimen photos for QR codes linking to iNaturalist observations,
optionally add a caption, and upload them to the matching observation.
Every upload is recorded so the same image is not sent twice.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// stdout is reserved for command output
			return logger.Configure(opts.logLevel, "text", cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&opts.home, "home", "", "Application directory (default $VOUCHERSNAP_HOME or ~/.vouchersnap)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")

	root.AddCommand(
		newScanCmd(opts),
		newRunCmd(opts),
		newHistoryCmd(opts),
		newConfigCmd(opts),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newServeCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vouchersnap/vouchersnap/internal/container"
	"github.com/vouchersnap/vouchersnap/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var host, port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			// The server logs JSON on stdout like any other service.
			level := cfg.LogLevel
			if cmd.Flags().Changed("log-level") {
				level = opts.logLevel
			}
			if err := logger.Configure(level, "json", cmd.OutOrStdout()); err != nil {
				return err
			}

			c, err := container.NewContainer(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			server := &http.Server{
				Addr:         cfg.ServerAddress(),
				Handler:      c.Handler(),
				ReadTimeout:  cfg.RequestTimeout,
				WriteTimeout: cfg.RequestTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.WithFields(logrus.Fields{
					"address": cfg.ServerAddress(),
					"timeout": cfg.RequestTimeout,
				}).Info("Starting HTTP server")

				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					logger.WithError(err).Error("Failed to start server")
					return err
				}
				return nil
			case <-cmd.Context().Done():
			}

			logger.Info("Shutting down server...")

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.WithError(err).Error("Server forced to shutdown")
				return err
			}

			logger.Info("Server exited")
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (default from config)")
	cmd.Flags().StringVar(&port, "port", "", "Listen port (default from config)")
	return cmd
}

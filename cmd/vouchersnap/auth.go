package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vouchersnap/vouchersnap/internal/inat"
)

const tokenPageURL = "https://www.inaturalist.org/users/api_token"

func newLoginCmd(opts *rootOptions) *cobra.Command {
	var (
		token     string
		expiresIn int64
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an iNaturalist API token for uploads",
		Long: `Store an iNaturalist API token. Copy one from
` + tokenPageURL + ` while signed in. Tokens from that page are valid for 24 hours.
Without --token the token is read from the terminal without echo, or from stdin
when it is piped in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if token == "" {
				ask := newPrompter(cmd.InOrStdin(), out, false)
				if token, err = ask.secret("API token: "); err != nil {
					return err
				}
			}
			if token == "" {
				return errors.New("no token given")
			}

			tok := inat.Token{AccessToken: token, TokenType: "Bearer"}
			if cmd.Flags().Changed("expires-in") {
				if expiresIn <= 0 {
					return fmt.Errorf("--expires-in must be positive (got %d)", expiresIn)
				}
				tok.ExpiresIn = &expiresIn
			}

			store := inat.NewTokenStore(cfg.TokenPath)
			if err := store.Save(tok); err != nil {
				return err
			}
			fmt.Fprintln(out, "Logged in.")
			fmt.Fprintf(out, "Token saved to %s\n", store.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "API token (prompted for when omitted)")
	cmd.Flags().Int64Var(&expiresIn, "expires-in", 0, "Token lifetime in seconds (default 24h)")
	return cmd
}

func newLogoutCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored API token",
		Long:  "Remove the stored API token. Upload history is kept.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := inat.NewTokenStore(cfg.TokenPath).Clear(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Logged out.")
			fmt.Fprintf(out, "Upload history kept at %s\n", cfg.HistoryPath)
			return nil
		},
	}
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/watchtrix/watchtrix/chatsync"
)

// NewLoginCommand creates the login command.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	var homeserver, user, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with a password and store the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			if homeserver != "" {
				cfg.Homeserver = homeserver
			}
			if user != "" {
				cfg.UserID = user
			}
			if cfg.Homeserver == "" || cfg.UserID == "" {
				return fmt.Errorf("homeserver and user are required")
			}
			if password == "" {
				password = os.Getenv("WATCHTRIX_PASSWORD")
			}
			if password == "" {
				return fmt.Errorf("password is required (flag or WATCHTRIX_PASSWORD)")
			}

			transport := chatsync.NewHTTPTransport(cfg.Homeserver, "")
			resp, err := transport.Login(cmd.Context(), cfg.UserID, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			cfg.UserID = resp.UserID
			cfg.AccessToken = resp.AccessToken
			if err := SaveConfig(opts.ConfigPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", resp.UserID)
			return nil
		},
	}

	cmd.Flags().StringVar(&homeserver, "homeserver", "", "homeserver base URL")
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Invalidate the session and clear local credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.client.SignOut(cmd.Context()); err != nil {
				return err
			}
			sess.cfg.AccessToken = ""
			if err := SaveConfig(opts.ConfigPath, sess.cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

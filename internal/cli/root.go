// Package cli implements the watchtrix command-line surface.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/watchtrix/watchtrix/chatstore"
	"github.com/watchtrix/watchtrix/chatsync"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand creates the root command for the watchtrix CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "watchtrix",
		Short: "watchtrix - a tiny chat client core",
		Long:  "Sync, read and send messages in a federated chat network from the terminal.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
				&slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", DefaultConfigPath(), "config file path")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewRoomsCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewReactCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// session bundles the objects most commands need.
type session struct {
	cfg       *Config
	store     *chatstore.Store
	transport *chatsync.HTTPTransport
	client    *chatsync.Client
}

// openSession loads config, opens the store and builds a signed-in sync
// client. Commands must Close the returned session.
func openSession(ctx context.Context, opts *RootOptions) (*session, error) {
	cfg, err := LoadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("not logged in: run `watchtrix login` first")
	}

	store, err := chatstore.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	transport := chatsync.NewHTTPTransport(cfg.Homeserver, cfg.AccessToken)
	client := chatsync.NewClient(store, transport, cfg.UserID, nil)
	if _, err := client.SignIn(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return &session{cfg: cfg, store: store, transport: transport, client: client}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

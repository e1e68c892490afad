package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRoomsCommand creates the rooms command.
func NewRoomsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List rooms with their latest message excerpt",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			rooms, err := sess.store.Rooms(ctx)
			if err != nil {
				return err
			}
			for _, room := range rooms {
				name := ""
				if room.Name != nil {
					name = *room.Name
				} else {
					name, err = sess.store.GenerateName(ctx, room.ID, sess.cfg.UserID)
					if err != nil {
						return err
					}
				}
				if name == "" {
					name = room.ID
				}

				marker := " "
				if room.UnreadCount > 0 {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-40s %s\n", marker, name, room.Excerpt)
			}
			return nil
		},
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	var pages int

	cmd := &cobra.Command{
		Use:   "history <room-id>",
		Short: "Backfill older messages for a room and print its timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			roomID := args[0]

			sess, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			for i := 0; i < pages; i++ {
				more, err := sess.client.LoadOlderMessages(ctx, roomID)
				if err != nil {
					return err
				}
				if !more {
					break
				}
			}

			messages, err := sess.store.RoomMessages(ctx, roomID, 0)
			if err != nil {
				return err
			}
			for _, m := range messages {
				body, err := sess.store.DisplayBody(ctx, m.ID)
				if err != nil {
					return err
				}
				if m.Redacted {
					body = "(redacted)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", m.Sender, body)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&pages, "pages", 1, "history pages to backfill")
	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watchtrix/watchtrix/outbox"
	"github.com/watchtrix/watchtrix/protocol"
)

// NewReactCommand creates the react command.
func NewReactCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "react <room-id> <event-id> <key>",
		Short: "Annotate a message with a reaction key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			roomID, eventID, key := args[0], args[1], args[2]

			sess, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			if _, err := sess.store.Message(ctx, eventID); err != nil {
				return fmt.Errorf("target not known locally: %w", err)
			}

			n, err := sess.store.NextTxnID(ctx, sess.cfg.UserID)
			if err != nil {
				return err
			}
			txnID := outbox.FormatTxnID(n)
			if err := sess.store.Save(ctx); err != nil {
				return err
			}

			content := protocol.ReactionContent{
				RelatesTo: &protocol.RelatesTo{
					RelType: protocol.RelAnnotation,
					EventID: eventID,
					Key:     key,
				},
			}
			sentID, err := sess.transport.SendReaction(ctx, roomID, txnID, content)
			if err != nil {
				return fmt.Errorf("reaction failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", sentID)
			return nil
		},
	}
}

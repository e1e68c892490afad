package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watchtrix/watchtrix/outbox"
)

// NewSendCommand creates the send command.
func NewSendCommand(opts *RootOptions) *cobra.Command {
	var replyTo string

	cmd := &cobra.Command{
		Use:   "send <room-id> <message>",
		Short: "Send a message, optionally as a reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			roomID, body := args[0], args[1]

			sess, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			counter := outbox.CounterFunc(func(ctx context.Context) (int64, error) {
				return sess.store.NextTxnID(ctx, sess.cfg.UserID)
			})
			manager := outbox.NewManager(counter)

			var reply *outbox.ReplyContext
			if replyTo != "" {
				quoted, err := sess.store.Message(ctx, replyTo)
				if err != nil {
					return fmt.Errorf("reply target not known locally: %w", err)
				}
				quotedBody, err := sess.store.DisplayBody(ctx, replyTo)
				if err != nil {
					return err
				}
				reply = &outbox.ReplyContext{
					EventID: replyTo,
					RoomID:  roomID,
					Sender:  quoted.Sender,
					Body:    quotedBody,
				}
			}

			txn, err := manager.Create(ctx, roomID, body, reply)
			if err != nil {
				return err
			}
			// The allocated counter value must be durable before the id
			// goes on the wire.
			if err := sess.store.Save(ctx); err != nil {
				return err
			}

			eventID, err := sess.transport.SendMessage(ctx, roomID, txn.ID, txn.Content())
			if err != nil {
				manager.MarkFailed(roomID, txn.ID, err)
				return fmt.Errorf("send failed: %w", err)
			}
			manager.MarkDelivered(roomID, txn.ID, eventID)
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", eventID)
			return nil
		},
	}

	cmd.Flags().StringVar(&replyTo, "reply-to", "", "event id to quote as a reply")
	return cmd
}

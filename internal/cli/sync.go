package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the local store with the server",
		Long:  "Performs one sync cycle, or keeps long-polling with --follow.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()

			if follow {
				sess.client.Start(cmd.Context())
				<-cmd.Context().Done()
				sess.client.Wait()
				return nil
			}

			if err := sess.client.SyncOnce(cmd.Context()); err != nil {
				return err
			}
			sess.client.Wait()

			rooms, err := sess.store.RoomCount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Synced %d rooms\n", rooms)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep syncing until interrupted")
	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var postLatestCmd = &cobra.Command{
	Use:   "post-latest <subscriber-id>",
	Short: "Announce the newest thread of a subscriber's forum now",
	Args:  cobra.ExactArgs(1),
	RunE:  postLatestAction,
}

func postLatestAction(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close()

	msg, err := a.monitor.PostLatest(cmd.Context(), args[0])
	if msg != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "posted %q\n%s\n", msg.Title, msg.URL)
	}
	if err != nil {
		return fmt.Errorf("post latest for %s: %w", args[0], err)
	}
	return nil
}

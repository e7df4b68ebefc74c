package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"vidiox/enhance"
)

func newWatchCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <taskId>",
		Args:  cobra.ExactArgs(1),
		Short: "Poll a task until it completes or fails",
		RunE: func(cmd *cobra.Command, args []string) error {
			return watch(cmd.Context(), o, o.backend(), args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&o.interval, "interval", 0, "poll interval (default POLL_INTERVAL)")
	return cmd
}

// watch prints one line per progress change and the artifact URL at the end.
func watch(ctx context.Context, o *options, b enhance.Backend, taskID string, out io.Writer) error {
	last := -1
	res, err := o.poller(b).Watch(ctx, taskID, func(u enhance.Update) {
		if u.Progress == last && u.Status != enhance.StatusCompleted {
			return
		}
		last = u.Progress
		fmt.Fprintf(out, "%-10s %3d%%\n", u.Status, u.Progress)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "done: %s\n", res.ArtifactURL)
	return nil
}

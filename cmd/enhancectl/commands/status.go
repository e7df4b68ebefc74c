package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newStatusCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <taskId>",
		Args:  cobra.ExactArgs(1),
		Short: "Print the current status of a task as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.backend().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

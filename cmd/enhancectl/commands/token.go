package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vidiox/auth"
)

func newTokenCommand(o *options) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <owner>",
		Args:  cobra.ExactArgs(1),
		Short: "Issue a bearer token for an owner (needs AUTH_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ttl == 0 {
				ttl = o.cfg.AuthTokenTTL
			}
			tok, err := auth.NewTokenManager(o.cfg.AuthSecret).Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default AUTH_TOKEN_TTL)")
	return cmd
}

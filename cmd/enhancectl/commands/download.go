package commands

import (
	"fmt"
	"net/url"
	"os"
	"path"

	"github.com/spf13/cobra"
)

func newDownloadCommand(o *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <filename|url>",
		Args:  cobra.ExactArgs(1),
		Short: "Download an artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := artifactName(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = name
			}

			f, err := os.Create(output)
			if err != nil {
				return err
			}
			n, err := o.backend().Download(cmd.Context(), name, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(output)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", output, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default: the artifact name)")
	return cmd
}

// artifactName accepts a bare filename or a download URL.
func artifactName(arg string) (string, error) {
	u, err := url.Parse(arg)
	if err != nil {
		return "", err
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("no filename in %q", arg)
	}
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	return name, nil
}

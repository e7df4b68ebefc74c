package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"vidiox/enhance"
	"vidiox/job"
	"vidiox/storage"
)

func newSubmitCommand(o *options) *cobra.Command {
	var (
		typ      string
		settings = job.DefaultSettings()
		follow   bool
	)
	cmd := &cobra.Command{
		Use:   "submit <file>",
		Args:  cobra.ExactArgs(1),
		Short: "Upload a video and start enhancing it",
		Long:  `Upload a video and start enhancing it. Prints the task id; with --watch, follows it to the end.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := settings.Validate(); err != nil {
				return err
			}
			if !job.EnhancementType(typ).Valid() {
				return fmt.Errorf("unsupported enhancement type %q", typ)
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			mime, body, err := storage.DetectVideo(f)
			if err != nil {
				if errors.Is(err, storage.ErrNotVideo) {
					return fmt.Errorf("%s is not a video (%s)", args[0], mime)
				}
				return fmt.Errorf("%s: %w", args[0], err)
			}

			b := o.backend()
			taskID, err := b.Submit(cmd.Context(), enhance.Submission{
				File:        body,
				Filename:    filepath.Base(args[0]),
				ContentType: mime,
				Type:        job.EnhancementType(typ),
				Settings:    settings,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), taskID)

			if !follow {
				return nil
			}
			return watch(cmd.Context(), o, b, taskID, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&typ, "type", string(job.TypeSuperResolution), "super_resolution, denoising, interpolation or restoration")
	flags.StringVar(&settings.Resolution, "resolution", settings.Resolution, "hd, 2k, 4k or 8k")
	flags.StringVar(&settings.FPS, "fps", settings.FPS, "24, 30, 60 or 120")
	flags.BoolVar(&settings.Denoise, "denoise", settings.Denoise, "apply denoising")
	flags.BoolVar(&settings.ColorEnhance, "color-enhance", settings.ColorEnhance, "apply color enhancement")
	flags.BoolVar(&settings.Stabilize, "stabilize", settings.Stabilize, "apply stabilization")
	flags.BoolVarP(&follow, "watch", "w", false, "poll until the task finishes")
	flags.DurationVar(&o.interval, "interval", 0, "poll interval with --watch (default POLL_INTERVAL)")
	return cmd
}

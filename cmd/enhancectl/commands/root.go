package commands

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vidiox/config"
	"vidiox/enhance"
	"vidiox/logging"
)

// options are shared by every subcommand. Flags win over configuration.
type options struct {
	backendURL string
	token      string
	logLevel   string
	interval   time.Duration

	cfg *config.Config
	log zerolog.Logger
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	o := &options{}
	rootCmd := &cobra.Command{
		Use:           "enhancectl",
		Short:         "Submit videos for enhancement and follow their progress",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&o.backendURL, "backend", "", "enhancement server URL (default BACKEND_URL)")
	flags.StringVar(&o.token, "token", "", "bearer token (default BACKEND_TOKEN)")
	flags.StringVar(&o.logLevel, "log-level", "warn", "log level for diagnostics on stderr")

	rootCmd.AddCommand(
		newSubmitCommand(o),
		newStatusCommand(o),
		newWatchCommand(o),
		newDownloadCommand(o),
		newTokenCommand(o),
	)
	return rootCmd
}

func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg
	if o.backendURL == "" {
		o.backendURL = cfg.BackendURL
	}
	if o.token == "" {
		o.token = cfg.BackendToken
	}
	o.log = logging.NewWithWriter(cmd.ErrOrStderr(), o.logLevel, "console")
	return nil
}

func (o *options) backend() *enhance.HTTPBackend {
	return enhance.NewHTTPBackend(o.backendURL, o.token, o.cfg.HTTPTimeout)
}

func (o *options) poller(b enhance.Backend) *enhance.Poller {
	interval := o.cfg.PollInterval
	if o.interval > 0 {
		interval = o.interval
	}
	p := enhance.NewPoller(b, interval, o.cfg.PollMaxWait)
	p.Retries = o.cfg.PollRetries
	p.Log = o.log
	return p
}

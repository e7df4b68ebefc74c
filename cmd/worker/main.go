// Command worker consumes job ids from RabbitMQ and runs the simulator for each.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"vidiox/app"
	"vidiox/config"
	"vidiox/logging"
	"vidiox/queue/rabbitmq"
	"vidiox/simulator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "json")
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("service", "worker").Logger()
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped")
	}
	log.Info().Msg("worker exiting")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	locker, closeLocker, err := app.OpenLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	sim := app.NewSimulator(cfg, store, locker, log)

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, rabbitmq.ConsumerOptions{
		Concurrency: cfg.MaxConcurrency,
	}, log)
	if err != nil {
		return err
	}
	defer consumer.Close()

	return consumer.Run(ctx, func(ctx context.Context, jobID string) error {
		err := sim.Run(ctx, jobID)
		if errors.Is(err, simulator.ErrLeased) {
			// another worker has it
			return nil
		}
		return err
	})
}

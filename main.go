// vidiox/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"vidiox/api"
	"vidiox/app"
	"vidiox/auth"
	"vidiox/config"
	"vidiox/logging"
	"vidiox/queue/rabbitmq"
	"vidiox/storage"
	"vidiox/video"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "json")
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server exiting")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize dependencies
	store, closeStore, err := app.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	files, err := storage.NewFileStore(cfg.StorageDir)
	if err != nil {
		return err
	}

	var dispatcher video.Dispatcher
	switch strings.ToLower(cfg.Dispatch) {
	case "amqp":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			return err
		}
		defer pub.Close()
		dispatcher = pub
		log.Info().Str("queue", cfg.RabbitQueue).Msg("dispatching jobs to rabbitmq")
	default:
		locker, closeLocker, err := app.OpenLocker(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeLocker()
		sim := app.NewSimulator(cfg, store, locker, log)
		sim.Start(ctx)
		defer sim.Wait()
		dispatcher = sim
	}

	// 3. Set up router and server
	svc := video.NewService(store, files, dispatcher, app.NewThrottle(cfg, log), video.Options{
		BaseURL:      cfg.BaseURL,
		MaxInputSize: cfg.MaxInputSize,
	}, log)

	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRouter(svc, files, auth.NewTokenManager(cfg.AuthSecret), cfg, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Str("dispatch", cfg.Dispatch).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// 4. Wait for interrupt signal for graceful shutdown
	select {
	case err := <-errc:
		// Cancel ctx so the deferred sim.Wait can return.
		stop()
		return err
	case <-ctx.Done():
	}

	// Restore default behavior on the interrupt signal and notify user of shutdown.
	stop()
	log.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the requests it is currently handling
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

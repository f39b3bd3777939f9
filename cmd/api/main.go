package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"notifyd/internal/analytics"
	"notifyd/internal/batch"
	"notifyd/internal/config"
	"notifyd/internal/handlers"
	"notifyd/internal/queue"
	"notifyd/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "api").Logger()

	store, err := storage.NewRedisStorage(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}

	queueManager, err := queue.NewManager(cfg.AMQPURL, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to rabbitmq")
	}
	defer queueManager.Close()

	orchestrator := batch.NewOrchestrator(queueManager, store, log)
	recorder := analytics.NewRecorder(store, log)

	router := handlers.Router(
		handlers.NewNotifyHandler(store, queueManager),
		handlers.NewBatchHandler(orchestrator),
		handlers.NewTemplateHandler(store),
		handlers.NewLogsHandler(store),
		handlers.NewAnalyticsHandler(recorder),
	)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("api server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-stop
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

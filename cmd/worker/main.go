package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"notifyd/internal/analytics"
	"notifyd/internal/channel"
	"notifyd/internal/config"
	"notifyd/internal/models"
	"notifyd/internal/queue"
	"notifyd/internal/storage"
	"notifyd/internal/template"
	"notifyd/internal/webhook"
	"notifyd/internal/worker"
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
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "worker").Logger()

	store, err := storage.NewRedisStorage(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to redis")
	}

	queueManager, err := queue.NewManager(cfg.AMQPURL, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to rabbitmq")
	}
	defer queueManager.Close()

	dispatcher := channel.NewDispatcher()
	dispatcher.Register(models.ChannelEmail, channel.NewPostmarkSender(channel.EmailConfig{
		ServerToken:  cfg.PostmarkServerToken,
		AccountToken: cfg.PostmarkAccountToken,
		SenderEmail:  cfg.SenderEmail,
		SupportEmail: cfg.SupportEmail,
	}))
	dispatcher.Register(models.ChannelSMS, channel.NewSMSGatewaySender(channel.SMSConfig{
		GatewayURL: cfg.SMSGatewayURL,
		Token:      cfg.SMSGatewayToken,
		Sender:     cfg.SMSSender,
	}))

	inApp := channel.NewInAppSender()
	inApp.RegisterTransport(channel.NewHub(16))
	dispatcher.Register(models.ChannelInApp, inApp)
	dispatcher.Register(models.ChannelPush, channel.NewPushSender())

	templates := template.NewService(store)
	recorder := analytics.NewRecorder(store, log)
	webhooks := webhook.NewNotifier(cfg.WebhookURLs, cfg.WebhookSecret, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	scheduler := worker.NewScheduler(store, queueManager, log)
	g.Go(func() error {
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		scheduler.Stop()
		return nil
	})

	processor := worker.NewProcessor(store, queueManager, templates, dispatcher, recorder, webhooks, cfg.WorkerConcurrency, log)
	g.Go(func() error {
		if err := processor.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	})

	log.Info().Msg("worker started")

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
	log.Info().Msg("worker stopped")
}

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/timonen87/ocr-microservices/internal/broker"
	"github.com/timonen87/ocr-microservices/internal/config"
	"github.com/timonen87/ocr-microservices/internal/notify"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer logger.Sync()

	mailer := notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)

	consumer := notify.NewConsumer(cfg.AMQPURL, mailer, cfg.ReconnectDelay, logger,
		broker.WithLogger(logger),
		broker.WithMaxAttempts(cfg.MaxAttempts),
	)

	logger.Info("notification consumer starting")
	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("notification consumer failed", zap.Error(err))
	}
	logger.Info("notification consumer shut down")
}

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/timonen87/ocr-microservices/internal/broker"
	"github.com/timonen87/ocr-microservices/internal/config"
	"github.com/timonen87/ocr-microservices/internal/notify"
	"github.com/timonen87/ocr-microservices/internal/ocr"
	"github.com/timonen87/ocr-microservices/internal/ocr/tesseract"
	"github.com/timonen87/ocr-microservices/internal/store"
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

	var statuses ocr.StatusRecorder
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, status tracking disabled", zap.Error(err))
	} else {
		statuses = store.New(rdb)
	}
	cancel()

	engine := tesseract.New(tesseract.WithLanguages(cfg.OCRLanguages...))
	logger.Info("ocr worker starting", zap.String("engine", engine.Name()))

	// One consume session per connection; a dropped connection starts the
	// next session after the fixed reconnect delay.
	for {
		conn, err := broker.DialWithRetry(ctx, cfg.AMQPURL, cfg.ReconnectDelay,
			broker.WithLogger(logger))
		if err != nil {
			return
		}

		producer, err := notify.NewProducer(conn, logger)
		if err != nil {
			logger.Error("could not set up notification producer", zap.Error(err))
			conn.Close()
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.ReconnectDelay):
			}
			continue
		}

		svc := ocr.NewService(engine, producer, statuses, logger)
		consumer := broker.NewConsumer(conn, ocr.Queue,
			broker.WithLogger(logger),
			broker.WithMaxAttempts(cfg.MaxAttempts),
		)
		consumer.OnRequest(svc.HandleRequest)

		err = consumer.Run(ctx)
		conn.Close()
		if ctx.Err() != nil {
			logger.Info("ocr worker shutting down")
			return
		}
		logger.Warn("consume session ended, reconnecting",
			zap.Duration("delay", cfg.ReconnectDelay), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(cfg.ReconnectDelay):
		}
	}
}

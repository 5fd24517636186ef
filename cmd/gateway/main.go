package main

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/timonen87/ocr-microservices/internal/broker"
	"github.com/timonen87/ocr-microservices/internal/config"
	"github.com/timonen87/ocr-microservices/internal/gateway"
	"github.com/timonen87/ocr-microservices/internal/ocr"
	"github.com/timonen87/ocr-microservices/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer logger.Sync()

	// Status tracking is optional: a dead Redis only disables /jobs/:id.
	var statuses gateway.StatusStore
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, status tracking disabled", zap.Error(err))
	} else {
		statuses = store.New(rdb)
	}
	cancel()

	client, err := broker.NewClient(cfg.AMQPURL, ocr.Queue,
		broker.WithLogger(logger),
		broker.WithCallTimeout(cfg.RPCTimeout),
	)
	if err != nil {
		logger.Fatal("could not connect to broker", zap.Error(err))
	}
	defer client.Close()

	srv := gateway.New(client, statuses, cfg.UserServiceURL, cfg.JWTSecret, cfg.RPCTimeout, logger)

	logger.Info("gateway listening", zap.String("addr", cfg.HTTPAddr))
	if err := srv.Router().Run(cfg.HTTPAddr); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

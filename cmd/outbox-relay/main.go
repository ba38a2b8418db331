package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/config"
	"github.com/billforge/billforge/pkg/eventbus"
	"github.com/billforge/billforge/pkg/logging"
	"github.com/billforge/billforge/pkg/outbox"
	"github.com/billforge/billforge/pkg/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("kafka.brokers is required")
	}

	db, err := postgres.NewStore(&cfg.Database, cfg.Store, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	producer := eventbus.NewKafkaProducer(eventbus.KafkaProducerConfig{
		Brokers:    cfg.Kafka.Brokers,
		ClientID:   cfg.Kafka.ClientID,
		EventTopic: cfg.Kafka.EventTopic,
		DLQTopic:   cfg.Kafka.DLQTopic,
	})
	defer producer.Close()

	repo := postgres.NewOutboxRepository(db.DB())
	relay := outbox.NewRelay(repo, producer, logger, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal("outbox relay stopped with error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("outbox relay shutting down")
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/tickfeed/cmd/generator/internal/generator"
	"github.com/shubham-shewale/tickfeed/pkg/config"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ensure the topic exists before producing
	topics := generator.NewTopicCreator(logger, &generator.RealKafkaDialer{Dialer: &kafka.Dialer{Timeout: 10 * time.Second}}, clock)
	if err := topics.Create(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions); err != nil {
		logger.Warn("Topic setup incomplete", zap.String("topic", cfg.Kafka.Topic), zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
		// Batch to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
	}

	gen := generator.NewTickGenerator(logger, writer, generator.Settings{
		Symbol:    cfg.Feed.Symbol,
		BasePrice: cfg.Feed.Price,
		Quantity:  cfg.Feed.Quantity,
		Spread:    cfg.Generator.Spread,
		Interval:  cfg.Feed.Interval,
	}, generator.NewRand(time.Now().UnixNano()), clock)

	gen.Run(ctx)
	logger.Info("Shutdown signal received")

	// Flush the async buffer
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}

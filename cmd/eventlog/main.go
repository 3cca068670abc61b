// eventlog consumes phone login flow events from Kafka and writes them as structured log lines.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC and KAFKA_GROUP_ID.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"phone-login/client/internal/config"
	"phone-login/client/internal/logging"
	"phone-login/client/internal/telemetry/consumer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logging: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	brokers := cfg.TelemetryKafkaBrokersList()
	if len(brokers) == 0 {
		logger.Fatal("eventlog: KAFKA_BROKERS is required")
	}

	reader := consumer.NewReader(brokers, cfg.TelemetryKafkaTopic, cfg.KafkaGroupID)
	defer reader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("eventlog: consuming",
		zap.String("topic", cfg.TelemetryKafkaTopic),
		zap.String("group", cfg.KafkaGroupID),
	)
	if err := consumer.Run(ctx, reader, consumer.LogHandler(logger), logger); err != nil {
		logger.Error("eventlog: stopped", zap.Error(err))
		return
	}
	logger.Info("eventlog: stopped")
}

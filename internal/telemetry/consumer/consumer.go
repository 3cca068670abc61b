// Package consumer reads verification flow events back from Kafka.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"phone-login/client/internal/telemetry"
)

// MessageReader is the subset of *kafka.Reader used by Run.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Handler processes one decoded event.
type Handler func(ctx context.Context, event *telemetry.Event) error

// NewReader returns a consumer-group reader for topic.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
}

// DecodeEvent parses a message written by producer.KafkaProducer.
func DecodeEvent(msg kafka.Message) (*telemetry.Event, error) {
	var ev telemetry.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return nil, fmt.Errorf("consumer: decode offset %d: %w", msg.Offset, err)
	}
	if ev.EventType == "" {
		for _, h := range msg.Headers {
			if h.Key == "event_type" {
				ev.EventType = string(h.Value)
			}
		}
	}
	return &ev, nil
}

// Run reads until ctx is done. Undecodable messages and handler failures are logged and skipped.
func Run(ctx context.Context, r MessageReader, h Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("kafka read error", zap.Error(err))
			continue
		}
		ev, err := DecodeEvent(msg)
		if err != nil {
			logger.Warn("skipping message", zap.Int("partition", msg.Partition), zap.Error(err))
			continue
		}
		handleCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := h(handleCtx, ev); err != nil {
			logger.Warn("event handler failed", zap.String("event_type", ev.EventType), zap.Error(err))
		}
		cancel()
	}
}

// LogHandler writes each event as a structured log line.
func LogHandler(logger *zap.Logger) Handler {
	return func(ctx context.Context, ev *telemetry.Event) error {
		fields := []zap.Field{
			zap.String("session_id", ev.SessionID),
			zap.String("event_type", ev.EventType),
			zap.String("source", ev.Source),
			zap.Time("created_at", ev.CreatedAt),
		}
		if ev.Phone != "" {
			fields = append(fields, zap.String("phone", ev.Phone))
		}
		if len(ev.Metadata) > 0 {
			fields = append(fields, zap.ByteString("metadata", ev.Metadata))
		}
		logger.Info("flow event", fields...)
		return nil
	}
}

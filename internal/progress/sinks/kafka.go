package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/progress"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter returns a synchronous writer that hashes on the message key,
// keeping each channel's events on one partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// KafkaSink writes events to a Kafka topic keyed by channel id.
type KafkaSink struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaSink wraps writer.
func NewKafkaSink(writer MessageWriter, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{writer: writer, logger: logger}
}

// Consume writes the batch in a single call.
func (s *KafkaSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.writer == nil || len(batch) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(evt.Payload())
		if err != nil {
			return fmt.Errorf("marshal progress payload: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(evt.ChannelID),
			Value: data,
			Time:  evt.TS,
			Headers: []kafka.Header{
				{Key: "stage", Value: []byte(evt.Stage)},
			},
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write progress messages: %w", err)
	}
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close(context.Context) error {
	if s == nil || s.writer == nil {
		return nil
	}
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

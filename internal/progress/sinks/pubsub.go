package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/progress"
)

// PubSubSink publishes every event to a Google Cloud Pub/Sub topic. Messages
// carry the channel id as ordering key so one subscriber sees a run's events
// in emission order.
type PubSubSink struct {
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubSink enables message ordering on topic and wraps it.
func NewPubSubSink(topic *pubsub.Topic, logger *zap.Logger) *PubSubSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	topic.EnableMessageOrdering = true
	return &PubSubSink{topic: topic, logger: logger}
}

// Consume publishes the batch and waits for every publish result.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.topic == nil {
		return nil
	}
	type pending struct {
		key    string
		result *pubsub.PublishResult
	}
	results := make([]pending, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(evt.Payload())
		if err != nil {
			return fmt.Errorf("marshal progress payload: %w", err)
		}
		msg := &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"channel_id": evt.ChannelID,
				"run_id":     evt.RunUUID().String(),
				"stage":      string(evt.Stage),
			},
			OrderingKey: evt.ChannelID,
		}
		results = append(results, pending{key: evt.ChannelID, result: s.topic.Publish(ctx, msg)})
	}
	var errs []error
	for _, p := range results {
		if _, err := p.result.Get(ctx); err != nil {
			// A failed ordered publish pauses the key until resumed.
			s.topic.ResumePublish(p.key)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish progress: %w", errors.Join(errs...))
	}
	return nil
}

// Close flushes outstanding publishes and stops the topic's goroutines.
func (s *PubSubSink) Close(context.Context) error {
	if s == nil || s.topic == nil {
		return nil
	}
	s.topic.Stop()
	return nil
}

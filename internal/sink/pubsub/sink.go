// Package pubsub implements a Google Cloud Pub/Sub record sink.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/skumap/shelfcrawler/internal/catalog"
)

// Config captures the parameters required to publish records.
type Config struct {
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	TopicID   string `mapstructure:"topic_id" yaml:"topic_id"`
}

// Sink publishes one message per record to a Pub/Sub topic.
type Sink struct {
	topic *pubsub.Topic
}

// New verifies the topic exists and returns a Sink bound to it.
func New(ctx context.Context, client *pubsub.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if cfg.TopicID == "" {
		return nil, fmt.Errorf("topic id is required")
	}
	topic := client.Topic(cfg.TopicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", cfg.TopicID, err)
	}
	if !ok {
		return nil, fmt.Errorf("topic %s does not exist", cfg.TopicID)
	}
	return &Sink{topic: topic}, nil
}

// DeliverRecords publishes the batch and waits for every server ack. The
// identity key rides along as an attribute so downstream consumers can
// deduplicate redelivered messages.
func (s *Sink) DeliverRecords(ctx context.Context, records []catalog.Record) error {
	if s.topic == nil {
		return fmt.Errorf("pubsub sink is not configured")
	}
	results := make([]*pubsub.PublishResult, 0, len(records))
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.Identity(), err)
		}
		results = append(results, s.topic.Publish(ctx, &pubsub.Message{
			Data:       data,
			Attributes: map[string]string{"identity": rec.Identity()},
		}))
	}
	for i, res := range results {
		if _, err := res.Get(ctx); err != nil {
			return fmt.Errorf("publish record %s: %w", records[i].Identity(), err)
		}
	}
	return nil
}

// Close flushes outstanding publishes.
func (s *Sink) Close() {
	if s.topic != nil {
		s.topic.Stop()
	}
}

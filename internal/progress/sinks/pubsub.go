package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/pip-arch/url-compliance-checker/internal/progress"
)

// PubSubSink publishes terminal batch events to a Pub/Sub topic so downstream
// reporting systems learn about finished runs. Item-level events are ignored;
// the topic carries coarse lifecycle notifications only.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubSink connects to Pub/Sub via Application Default Credentials.
func NewPubSubSink(ctx context.Context, projectID, topicName string) (*PubSubSink, error) {
	if projectID == "" || topicName == "" {
		return nil, fmt.Errorf("pubsub project id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubSink{client: client, topic: client.Topic(topicName)}, nil
}

// Consume publishes each terminal event as a JSON message.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if !evt.Terminal() {
			continue
		}
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal progress event: %w", err)
		}
		result := s.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"batch_id": evt.BatchID,
				"stage":    string(evt.Stage),
			},
		})
		if _, err := result.Get(ctx); err != nil {
			return fmt.Errorf("publish progress event: %w", err)
		}
	}
	return nil
}

// Close flushes pending publishes and releases the client.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

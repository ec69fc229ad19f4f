// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"live-transcription-service/internal/models"
	"live-transcription-service/internal/observability/metrics"
	"live-transcription-service/internal/schema"
)

// Publisher publishes accepted segments and artifact change notifications
// to separate Kafka topics.
type Publisher struct {
	writerSegments  *kafka.Writer
	writerArtifacts *kafka.Writer
	principal       string
	topicSegments   string
	topicArtifacts  string
	enabled         bool
	validator       *schema.Validator
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicSegments  string
	TopicArtifacts string
	Principal      string
	Enabled        bool
}

// New creates a new Kafka event publisher. Without brokers it runs in
// log-only mode.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			validator: v,
			metrics:   m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicSegments:  cfg.TopicSegments,
			topicArtifacts: cfg.TopicArtifacts,
			enabled:        false,
			validator:      v,
			metrics:        m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicSegments", cfg.TopicSegments).
		Str("topicArtifacts", cfg.TopicArtifacts).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerSegments:  newWriter(cfg.TopicSegments),
		writerArtifacts: newWriter(cfg.TopicArtifacts),
		principal:       cfg.Principal,
		topicSegments:   cfg.TopicSegments,
		topicArtifacts:  cfg.TopicArtifacts,
		enabled:         true,
		validator:       v,
		metrics:         m,
	}
}

// PublishSegment publishes an accepted segment keyed by tenant, so one
// tenant's segments stay ordered within a partition.
func (p *Publisher) PublishSegment(ctx context.Context, event models.SegmentAccepted) error {
	if err := p.validator.Validate(event); err != nil {
		return err
	}
	return p.publish(ctx, p.writerSegments, p.topicSegments, "segment", event.TenantID, event)
}

// PublishContentChanged publishes an artifact change notification.
func (p *Publisher) PublishContentChanged(ctx context.Context, event models.ContentChanged) error {
	if err := p.validator.Validate(event); err != nil {
		return err
	}
	return p.publish(ctx, p.writerArtifacts, p.topicArtifacts, "content_update", event.TenantID, event)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return fmt.Errorf("marshal event: %w", err)
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerSegments != nil {
		if e := p.writerSegments.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing segments writer")
			err = e
		}
	}
	if p.writerArtifacts != nil {
		if e := p.writerArtifacts.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing artifacts writer")
			err = e
		}
	}
	return err
}

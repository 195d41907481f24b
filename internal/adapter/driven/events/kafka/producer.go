package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/Wyydra/rendezvous/internal/adapter/driven/events"
	"github.com/Wyydra/rendezvous/internal/config"
	"github.com/Wyydra/rendezvous/internal/core/domain"
	pkglog "github.com/Wyydra/rendezvous/internal/log"
)

// Producer publishes session lifecycle events to a Kafka topic, keyed by
// session id so one session's events stay ordered.
type Producer struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	if err := ensureTopic(cfg.Brokers, cfg.Topic, cfg.Partitions); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str("topic", cfg.Topic).Msg("failed to ensure topic, may already exist")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &Producer{
		producer: p,
		topic:    cfg.Topic,
		doneCh:   make(chan struct{}),
	}
	go kp.deliveryReports()

	return kp, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return err
	}
	for _, result := range results {
		if code := result.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}
	return nil
}

func (p *Producer) deliveryReports() {
	l := pkglog.L()
	for e := range p.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			l.Error().Err(m.TopicPartition.Error).Str(pkglog.FieldSessionID, string(m.Key)).Msg("kafka delivery failed")
		}
	}
	close(p.doneCh)
}

// Publish enqueues the event; delivery is reported asynchronously.
func (p *Producer) Publish(ctx context.Context, t domain.Transition) error {
	value, err := json.Marshal(events.NewEvent(t, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &p.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(t.SessionID),
		Value: value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the producer.
func (p *Producer) Close() error {
	if remaining := p.producer.Flush(5000); remaining > 0 {
		l := pkglog.L()
		l.Warn().Int("remaining", remaining).Msg("kafka flush timed out")
	}
	p.producer.Close()
	<-p.doneCh
	return nil
}

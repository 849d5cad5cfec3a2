package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/smukkama/demand-monitor/internal/protocol"
)

// Writer is the subset of kafka.Writer the producer needs
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer wraps a Kafka producer
type Producer struct {
	writer Writer
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // Partition by key (country or run id)
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

// NewProducerWithWriter wraps an existing writer
func NewProducerWithWriter(w Writer) *Producer {
	return &Producer{writer: w}
}

// Publish sends a message to Kafka
func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// PublishBatch sends multiple messages to Kafka
func (p *Producer) PublishBatch(ctx context.Context, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}
	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}
	return nil
}

// PublishDigests sends the non-empty digests keyed by country code
func (p *Producer) PublishDigests(ctx context.Context, digests []*protocol.ChangeDigest) (int, error) {
	var messages []kafka.Message
	for _, d := range digests {
		if d.Empty() {
			continue
		}
		value, err := protocol.EncodeChangeDigest(d)
		if err != nil {
			return 0, fmt.Errorf("failed to encode digest for %s: %w", d.Country, err)
		}
		messages = append(messages, kafka.Message{Key: []byte(d.Country), Value: value})
	}
	if err := p.PublishBatch(ctx, messages); err != nil {
		return 0, err
	}
	fmt.Printf("Published %d change digest(s)\n", len(messages))
	return len(messages), nil
}

// PublishSummary sends a run summary keyed by run id
func (p *Producer) PublishSummary(ctx context.Context, summary *protocol.RunSummary) error {
	value, err := protocol.EncodeRunSummary(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	return p.Publish(ctx, summary.RunID, value)
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer wraps a Kafka consumer
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0, // Manual commit after the digest is delivered
			StartOffset:    kafka.FirstOffset,
		}),
	}
}

// Consume reads messages from Kafka
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

// Commit commits the message offset
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// CreateTopic creates a Kafka topic with the specified number of partitions
func CreateTopic(brokers []string, topic string, numPartitions int, replicationFactor int) error {
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial controller: %w", err)
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: replicationFactor,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic: %w", err)
	}

	fmt.Printf("Created topic %s with %d partitions\n", topic, numPartitions)
	return nil
}

// Publisher routes change digests and run summaries to their topics
type Publisher struct {
	changes *Producer
	runs    *Producer
}

// NewPublisher creates one producer per topic
func NewPublisher(brokers []string, changesTopic, runsTopic string) *Publisher {
	return &Publisher{
		changes: NewProducer(brokers, changesTopic),
		runs:    NewProducer(brokers, runsTopic),
	}
}

func (p *Publisher) PublishDigests(ctx context.Context, digests []*protocol.ChangeDigest) (int, error) {
	return p.changes.PublishDigests(ctx, digests)
}

func (p *Publisher) PublishSummary(ctx context.Context, summary *protocol.RunSummary) error {
	return p.runs.PublishSummary(ctx, summary)
}

// Close closes both producers
func (p *Publisher) Close() error {
	return errors.Join(p.changes.Close(), p.runs.Close())
}

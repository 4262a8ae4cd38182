package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"influxq/internal/config"
	"influxq/internal/logger"
	"influxq/internal/metrics"
	"influxq/internal/models"
)

// Producer errors
var (
	ErrProducerClosed  = errors.New("producer is closed")
	ErrSerializeFailed = errors.New("failed to serialize message")
)

// Producer mirrors event envelopes to a Kafka topic. Writes are
// asynchronous: Send only queues the message and the delivery result is
// reported through the completion callback, so a slow broker never holds up
// the check run. Close flushes whatever is still queued.
type Producer struct {
	topic  string
	writer *kafka.Writer
	closed atomic.Bool

	// Metrics
	messagesQueued atomic.Uint64
	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64
	bytesWritten   atomic.Uint64
}

// NewProducer creates a new Kafka producer with the given configuration
func NewProducer(brokers []string, topic string, cfg config.ProducerConfig) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}

	if topic == "" {
		return nil, errors.New("topic is required")
	}

	p := &Producer{topic: topic}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // Partition by source
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  getCompression(cfg.Compression),
		Async:        true,
		Completion:   p.complete,
	}

	return p, nil
}

// getCompression returns the kafka compression codec
func getCompression(name string) compress.Compression {
	switch name {
	case "gzip":
		return compress.Gzip
	case "snappy":
		return compress.Snappy
	case "lz4":
		return compress.Lz4
	case "zstd":
		return compress.Zstd
	default:
		return compress.None // no compression
	}
}

// Name identifies the producer as an event sink
func (p *Producer) Name() string { return "kafka" }

// Send queues an envelope for the topic
func (p *Producer) Send(ctx context.Context, envelope *models.Envelope) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	msg, err := newMessage(envelope)
	if err != nil {
		p.messagesFailed.Add(1)
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("queue kafka message: %w", err)
	}

	p.messagesQueued.Add(1)
	return nil
}

func newMessage(envelope *models.Envelope) (kafka.Message, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	return kafka.Message{
		Key:   []byte(envelope.PartitionKey),
		Value: data,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(envelope.RunID)},
			{Key: "check", Value: []byte(envelope.Event.Name)},
			{Key: "status", Value: []byte(envelope.Event.Status.String())},
			{Key: "probe_node", Value: []byte(envelope.ProbeNode)},
		},
		Time: envelope.EmittedAt,
	}, nil
}

// complete is called by the writer once per delivered (or failed) batch
func (p *Producer) complete(messages []kafka.Message, err error) {
	log := logger.WithComponent("kafka_producer")

	if err != nil {
		p.messagesFailed.Add(uint64(len(messages)))
		metrics.EventsSentTotal.WithLabelValues(p.Name(), "failed").Add(float64(len(messages)))
		log.Error().
			Err(err).
			Str("topic", p.topic).
			Int("batch_size", len(messages)).
			Msg("failed to publish batch to kafka")
		return
	}

	bytesTotal := uint64(0)
	for _, msg := range messages {
		bytesTotal += uint64(len(msg.Value))
	}

	p.messagesSent.Add(uint64(len(messages)))
	p.bytesWritten.Add(bytesTotal)
	metrics.KafkaBytesWritten.Add(float64(bytesTotal))

	log.Debug().
		Str("topic", p.topic).
		Int("batch_size", len(messages)).
		Msg("batch published to kafka")
}

// Close flushes queued messages and closes the writer
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil // Already closed
	}

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// Stats returns producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		MessagesQueued: p.messagesQueued.Load(),
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
		BytesWritten:   p.bytesWritten.Load(),
	}
}

// ProducerStats holds producer metrics
type ProducerStats struct {
	MessagesQueued uint64
	MessagesSent   uint64
	MessagesFailed uint64
	BytesWritten   uint64
}

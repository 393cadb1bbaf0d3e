package firehose

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
}

// Kafka publishes one message per feed batch to a firehose topic, keyed by
// the batch's channel so subscribers can filter on (group, feed id).
type Kafka struct {
	writer messageWriter
	logger *log.Logger
	closer func() error
}

// NewKafka constructs a Kafka sink for the given brokers and topic.
func NewKafka(brokers []string, topic string) *Kafka {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
	return &Kafka{
		writer: writer,
		logger: log.New(log.Writer(), "[firehose] ", log.LstdFlags),
		closer: writer.Close,
	}
}

// Notify publishes every batch. Failures are logged and swallowed: the
// storage writes that produced these entries are already committed.
func (k *Kafka) Notify(ctx context.Context, batches map[string]Batch) {
	msgs := make([]kafka.Message, 0, len(batches))
	for _, batch := range batches {
		payload, err := json.Marshal(batch)
		if err != nil {
			k.logger.Printf("drop batch for %s: %v", batch.Channel, err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(batch.Channel.String()),
			Value: payload,
			Time:  time.Now().UTC(),
		})
	}
	if len(msgs) == 0 {
		return
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		k.logger.Printf("delivery failed for %d batches: %v", len(msgs), err)
	}
}

// Close releases the underlying writer.
func (k *Kafka) Close() error {
	if k.closer == nil {
		return nil
	}
	return k.closer()
}

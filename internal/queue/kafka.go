package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
}

// KafkaQueue publishes fan-out jobs to a Kafka topic, partitioned by origin
// feed so one feed's fan-out batches stay ordered relative to each other.
type KafkaQueue struct {
	writer messageWriter
	closer func() error
}

// NewKafkaQueue constructs a KafkaQueue for the given brokers and topic.
func NewKafkaQueue(brokers []string, topic string) *KafkaQueue {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
	return &KafkaQueue{writer: writer, closer: writer.Close}
}

// Enqueue publishes one job. The call returns once the broker has
// acknowledged the write.
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(job.OriginID),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "operation", Value: []byte(job.Operation.String())},
		},
	})
}

// Close releases the underlying writer.
func (q *KafkaQueue) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}

// Package consumer pulls fan-out jobs from Kafka and replays them against
// the feed engine.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/feedfan/internal/queue"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded jobs from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is the decoded representation of one queued fan-out job.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Operation string
	Job       queue.Job
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a
// Handler. Commits follow successful handling, so a crashed worker replays
// its in-flight jobs; replays are safe because fan-out writes are additive.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *log.Logger
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  log.New(log.Writer(), "[worker] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes jobs until the context is
// cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		job, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Printf("decode error (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, decodeErr)
			recordDecodeError(msg.Topic)
			// Commit malformed messages to avoid poison-pill loops.
			if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
				p.logger.Printf("commit error after decode failure: %v", commitErr)
			}
			continue
		}

		if handleErr := p.handler.Handle(ctx, job); handleErr != nil {
			p.logger.Printf("handler error (origin=%s, operation=%s): %v", job.Job.OriginID, job.Operation, handleErr)
			recordHandlerError(job)
			continue
		}

		if commitErr := p.reader.CommitMessages(ctx, msg); commitErr != nil {
			p.logger.Printf("commit error: %v", commitErr)
		} else {
			recordProcessed(job)
		}
	}
}

func decodeMessage(msg kafka.Message) (Message, error) {
	var job queue.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return Message{}, fmt.Errorf("unmarshal job: %w", err)
	}
	if job.Activity.ID == "" {
		return Message{}, errors.New("job missing activity id")
	}
	if job.OriginID == "" {
		return Message{}, errors.New("job missing origin feed")
	}

	operation, _ := headerValue(msg, "operation")

	return Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Operation: string(operation),
		Job:       job,
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}

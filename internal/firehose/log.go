package firehose

import (
	"context"
	"log"
)

// Log is an in-process sink that writes one line per feed batch. Useful for
// local development and as the reference callback implementation.
type Log struct {
	Logger *log.Logger
}

// NewLog constructs a Log sink.
func NewLog() *Log {
	return &Log{Logger: log.New(log.Writer(), "[firehose] ", log.LstdFlags)}
}

// Notify logs each batch's channel and entry count.
func (l *Log) Notify(_ context.Context, batches map[string]Batch) {
	for _, batch := range batches {
		l.Logger.Printf("channel=%s entries=%d", batch.Channel, len(batch.Entries))
	}
}

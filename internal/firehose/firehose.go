// Package firehose is the real-time broadcast boundary: the engine hands it
// per-feed batches of freshly written entries and moves on. Sinks are
// interchangeable and best-effort; a delivery failure never propagates into
// the write path that produced the batch.
package firehose

import (
	"context"

	"example.com/feedfan/internal/domain"
)

// Channel identifies what subscribers listen on: the feed's group name plus
// its caller-facing feed id.
type Channel struct {
	Group  string `json:"group"`
	FeedID string `json:"feed_id"`
}

// String renders the channel key subscribers use.
func (c Channel) String() string {
	return c.Group + ":" + c.FeedID
}

// Batch is the set of entries just written to one feed.
type Batch struct {
	Channel Channel            `json:"channel"`
	Entries []domain.FeedEntry `json:"entries"`
}

// Notifier delivers batches, keyed by feed row id, to whatever listens on
// each batch's channel. Implementations log their own delivery errors.
type Notifier interface {
	Notify(ctx context.Context, batches map[string]Batch)
}

// Nop is the sink used when no real-time layer is configured.
type Nop struct{}

// Notify discards the batches.
func (Nop) Notify(context.Context, map[string]Batch) {}

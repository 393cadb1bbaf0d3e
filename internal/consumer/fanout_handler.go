package consumer

import (
	"context"

	"example.com/feedfan/internal/domain"
)

// FanoutEngine is the slice of the feed engine the worker needs.
type FanoutEngine interface {
	Fanout(ctx context.Context, activity domain.Activity, group []domain.Follow, originID string, op domain.Operation) error
}

// FanoutHandler replays queued fan-out jobs against the engine.
type FanoutHandler struct {
	engine FanoutEngine
}

// NewFanoutHandler constructs a handler backed by the provided engine.
func NewFanoutHandler(engine FanoutEngine) *FanoutHandler {
	return &FanoutHandler{engine: engine}
}

// Handle writes the job's follower entries. Returning an error leaves the
// message uncommitted so the job is retried.
func (h *FanoutHandler) Handle(ctx context.Context, msg Message) error {
	return h.engine.Fanout(ctx, msg.Job.Activity, msg.Job.Group, msg.Job.OriginID, msg.Job.Operation)
}

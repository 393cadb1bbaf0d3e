// Package queue defines the deferred fan-out channel: jobs published by the
// engine and replayed by the worker pool.
package queue

import (
	"context"

	"example.com/feedfan/internal/domain"
)

// Job is one fan-out unit of work: write entries for Activity into the
// source feeds of Group, all originating from OriginID.
//
// Delivery is at least once. Replaying a job re-inserts the same entry rows,
// which the storage layer absorbs and the read-side merge tolerates, so no
// redelivery dedup is performed.
type Job struct {
	Activity  domain.Activity  `json:"activity"`
	Group     []domain.Follow  `json:"group"`
	OriginID  string           `json:"origin_id"`
	Operation domain.Operation `json:"operation"`
}

// Queue accepts fan-out jobs for asynchronous execution.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

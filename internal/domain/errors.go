package domain

import "errors"

var (
	// ErrMissingFeed is returned when an operation is called without a feed.
	ErrMissingFeed = errors.New("feed is required")
	// ErrRankAndAggregate is returned when a read supplies both a ranking
	// and an aggregation strategy.
	ErrRankAndAggregate = errors.New("cannot use both ranking and aggregation at the same time")
	// ErrMissingFollowSource signals a follow edge without a source feed in
	// a fan-out batch. This is a data corruption signal, not a recoverable
	// condition.
	ErrMissingFollowSource = errors.New("follow edge is missing its source feed")
	// ErrUnknownFeedGroup signals a feed whose group id has no matching
	// feed group row.
	ErrUnknownFeedGroup = errors.New("feed references an unknown feed group")
	// ErrDuplicateKey is the benign idempotency signal stores report for
	// unique-constraint violations on upserts.
	ErrDuplicateKey = errors.New("duplicate key")
)

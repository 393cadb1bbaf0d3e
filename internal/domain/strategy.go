package domain

import "time"

// AggregationStrategy maps an activity to the key of the bucket it joins.
type AggregationStrategy func(Activity) string

// RankingStrategy reports whether a should be ranked before b.
type RankingStrategy func(a, b Activity) bool

// FeedItem is one element of a materialized feed. In flat mode Activity is
// set and Activities is nil; in aggregated mode Group names the bucket and
// Activities holds its members in insertion order.
type FeedItem struct {
	Activity   *Activity  `json:"activity,omitempty"`
	Group      string     `json:"group,omitempty"`
	Time       time.Time  `json:"time"`
	Activities []Activity `json:"activities,omitempty"`
}
